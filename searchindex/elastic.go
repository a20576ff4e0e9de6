package searchindex

import (
	"context"

	elastic "gopkg.in/olivere/elastic.v5"

	"github.com/pkg/errors"
)

// Elastic implements Index against an Elasticsearch 5.x cluster.
type Elastic struct {
	Client *elastic.Client
}

// NewElastic wraps an already-constructed *elastic.Client.
func NewElastic(client *elastic.Client) *Elastic {
	return &Elastic{Client: client}
}

// EnsureIndex creates the physical index name with the given mapping if
// it does not already exist. It is not an error for the index to already
// exist.
func (e *Elastic) EnsureIndex(ctx context.Context, name string, mapping []byte) error {
	exists, err := e.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = e.Client.CreateIndex(name).BodyString(string(mapping)).Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "searchindex: creating index %s", name)
	}
	return nil
}

// AliasExists reports whether alias currently points at any index.
func (e *Elastic) AliasExists(ctx context.Context, alias string) (bool, error) {
	res, err := e.Client.Aliases().Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "searchindex: checking alias %s", alias)
	}
	return len(res.IndicesByAlias(alias)) > 0, nil
}

// IndexExists reports whether the physical index name exists.
func (e *Elastic) IndexExists(ctx context.Context, name string) (bool, error) {
	exists, err := e.Client.IndexExists(name).Do(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "searchindex: checking index %s", name)
	}
	return exists, nil
}

// AttachAlias points alias at the physical index name, supporting
// zero-downtime reindexing.
func (e *Elastic) AttachAlias(ctx context.Context, name, alias string) error {
	_, err := e.Client.Alias().Add(name, alias).Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "searchindex: attaching alias %s to %s", alias, name)
	}
	return nil
}

// Bulk executes ops as a single Elasticsearch bulk request, targeting
// each op's alias directly (aliases resolve to the underlying physical
// index transparently for both index and delete actions).
func (e *Elastic) Bulk(ctx context.Context, ops []BulkOp) error {
	if len(ops) == 0 {
		return nil
	}
	svc := e.Client.Bulk()
	for _, op := range ops {
		switch op.Kind {
		case BulkUpsert:
			svc.Add(elastic.NewBulkIndexRequest().Index(op.Alias).Type("_doc").Id(op.ID).Doc(op.Doc))
		case BulkDelete:
			svc.Add(elastic.NewBulkDeleteRequest().Index(op.Alias).Type("_doc").Id(op.ID))
		}
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return errors.Wrap(err, "searchindex: bulk request")
	}
	if resp.Errors {
		failed := resp.Failed()
		if len(failed) > 0 {
			return errors.Errorf("searchindex: %d bulk operations failed, first: %s", len(failed), failed[0].Error.Reason)
		}
	}
	return nil
}
