// Package changefeed is the Change Propagator: consumes the primary
// table's ordered change feed and keeps a per-resource-type search
// index, addressed through a stable alias, converged with the primary
// table's steady-state view. Apart from a per-process cache of which
// resource types already have their index and alias in place, the
// propagator carries no memory between invocations; idempotence comes
// from every step being a pure function of the record it is given.
package changefeed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/searchindex"
)

// Propagator drains a ChangeFeed and applies the resulting mutations to
// a search Index, one invocation (one batch of records) at a time.
type Propagator struct {
	Feed               kvstore.ChangeFeed
	Index              searchindex.Index
	EnableMultiTenancy bool
	// BinaryResourceTypes names resourceTypes whose images are skipped
	// entirely (binary/attachment resources carry no meaningfully
	// searchable fields).
	BinaryResourceTypes map[string]bool
	// Now supplies the timestamp used to mint a fresh physical index
	// name whenever a resourceType needs one created. Defaults to
	// time.Now; tests substitute a fixed clock for deterministic names.
	Now func() time.Time

	ensured map[string]bool // physical-index-and-alias already ensured this process
}

// New returns a Propagator over feed and index.
func New(feed kvstore.ChangeFeed, index searchindex.Index, enableMultiTenancy bool, binaryResourceTypes []string) *Propagator {
	binary := make(map[string]bool, len(binaryResourceTypes))
	for _, rt := range binaryResourceTypes {
		binary[rt] = true
	}
	return &Propagator{
		Feed:                feed,
		Index:               index,
		EnableMultiTenancy:  enableMultiTenancy,
		BinaryResourceTypes: binary,
		Now:                 time.Now,
		ensured:             make(map[string]bool),
	}
}

// ProcessShard drains every record after cursor on shardID, applies the
// resulting index mutations as one batch, and returns the cursor to
// resume from on the next invocation. On any index error the whole
// batch is re-raised so the feed redelivers it.
func (p *Propagator) ProcessShard(ctx context.Context, shardID, cursor string) (string, error) {
	records, next, err := p.Feed.Records(ctx, shardID, cursor)
	if err != nil {
		return cursor, errors.Wrap(err, "changefeed: reading records")
	}
	if len(records) == 0 {
		return next, nil
	}

	var ops []searchindex.BulkOp
	var offendingIDs []string

	for _, rec := range records {
		image := rec.NewImage
		if rec.EventType == kvstore.ChangeRemove {
			image = rec.OldImage
		}
		if image == nil {
			continue
		}

		resourceType, _ := image["resourceType"].(string)
		if resourceType == "" || p.BinaryResourceTypes[resourceType] {
			continue
		}

		if err := p.ensureIndex(ctx, resourceType); err != nil {
			offendingIDs = append(offendingIDs, fmt.Sprint(image["id"]))
			continue
		}

		alias := aliasFor(resourceType)
		id := normalizeID(image, p.EnableMultiTenancy)
		status, _ := image["documentStatus"].(string)

		switch rec.EventType {
		case kvstore.ChangeRemove:
			ops = append(ops, searchindex.BulkOp{Kind: searchindex.BulkDelete, Alias: alias, ID: id})
		case kvstore.ChangeInsert, kvstore.ChangeModify:
			switch rstore.DocumentStatus(status) {
			case rstore.StatusAvailable:
				ops = append(ops, searchindex.BulkOp{Kind: searchindex.BulkUpsert, Alias: alias, ID: id, Doc: buildDoc(image, id)})
			case rstore.StatusDeleted:
				ops = append(ops, searchindex.BulkOp{Kind: searchindex.BulkDelete, Alias: alias, ID: id})
			case rstore.StatusPending, rstore.StatusLocked, rstore.StatusPendingDelete:
				// index only steady-state items.
			}
		}
	}

	if len(offendingIDs) > 0 {
		err := errors.Errorf("changefeed: failed to ensure index for records %s", strings.Join(offendingIDs, ", "))
		log.Printf("%s", err)
		raven.CaptureError(err, map[string]string{"shardId": shardID})
		return cursor, err
	}

	if err := p.Index.Bulk(ctx, ops); err != nil {
		log.Printf("changefeed: bulk apply failed for shard %s: %s", shardID, err)
		raven.CaptureError(err, map[string]string{"shardId": shardID})
		return cursor, errors.Wrap(err, "changefeed: bulk apply")
	}

	return next, nil
}

// ensureIndex attaches the alias to a concrete physical index, creating
// a freshly-named one under a stable mapping if the alias does not yet
// exist. The physical index and the alias are always distinct names: an
// Elasticsearch alias and an index share one namespace, so reusing the
// alias string as the index name would collide on creation and, even if
// it didn't, would leave no second name to reindex into and rotate the
// alias onto later.
// Ensured once per resourceType per process; a fresh Propagator (e.g.
// after a redeploy) re-checks, which is safe since both operations are
// themselves idempotent.
func (p *Propagator) ensureIndex(ctx context.Context, resourceType string) error {
	if p.ensured[resourceType] {
		return nil
	}

	alias := aliasFor(resourceType)
	aliasExists, err := p.Index.AliasExists(ctx, alias)
	if err != nil {
		return errors.Wrap(err, "changefeed: checking alias")
	}
	if aliasExists {
		p.ensured[resourceType] = true
		return nil
	}

	physicalName := generationFor(resourceType, p.Now())
	indexExists, err := p.Index.IndexExists(ctx, physicalName)
	if err != nil {
		return errors.Wrap(err, "changefeed: checking index")
	}
	if !indexExists {
		if err := p.Index.EnsureIndex(ctx, physicalName, mappingFor(resourceType, p.EnableMultiTenancy)); err != nil {
			return errors.Wrap(err, "changefeed: creating index")
		}
	}
	if err := p.Index.AttachAlias(ctx, physicalName, alias); err != nil {
		return errors.Wrap(err, "changefeed: attaching alias")
	}
	p.ensured[resourceType] = true
	return nil
}

func aliasFor(resourceType string) string {
	return strings.ToLower(resourceType) + "-alias"
}

// generationFor mints a physical index name distinct from its alias, so
// a later reindex can create a second generation, backfill it, and
// rotate the alias onto it without ever touching the name still in use.
func generationFor(resourceType string, now time.Time) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(resourceType), now.UTC().Format("20060102150405"))
}

// normalizeID strips any embedded tenantId suffix from the stored id.
func normalizeID(image kvstore.Attributes, enableMultiTenancy bool) string {
	id, _ := image["id"].(string)
	if !enableMultiTenancy {
		return id
	}
	tenantID, _ := image["tenantId"].(string)
	return strings.TrimSuffix(id, tenantID)
}

// buildDoc projects the indexed keyword fields out of a raw stored
// image: id, resourceType, documentStatus, _references, plus tenantId
// when present. id overrides the image's own raw id with the caller's
// normalized one, since the image's stored id is the tenant-suffixed
// composite storageId in multi-tenant mode.
func buildDoc(image kvstore.Attributes, id string) map[string]interface{} {
	doc := map[string]interface{}{
		"id":             id,
		"resourceType":   image["resourceType"],
		"documentStatus": image["documentStatus"],
		"_references":    image["_references"],
	}
	if tenantID, ok := image["tenantId"]; ok {
		doc["tenantId"] = tenantID
	}
	return doc
}

// mappingFor builds the keyword-field mapping for a resource type's index.
func mappingFor(resourceType string, enableMultiTenancy bool) []byte {
	fields := `"id":{"type":"keyword"},"resourceType":{"type":"keyword"},"documentStatus":{"type":"keyword"},"_references":{"type":"keyword"}`
	if enableMultiTenancy {
		fields += `,"tenantId":{"type":"keyword"}`
	}
	return []byte(fmt.Sprintf(`{"mappings":{"_doc":{"properties":{%s}}}}`, fields))
}
