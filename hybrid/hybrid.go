// Package hybrid is the Hybrid Store: transparent offload of registered
// large fields to a blob store, composing the full resource back
// together on read. The registration table is built once at
// construction and never mutated afterward.
package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	raven "github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/blobstore"
	"github.com/ndlib/rstore/dataservice"
)

// bulkObject is the JSON body of an offloaded blob: the link field is
// self-referential, checked against the object's own key on every read.
type bulkObject struct {
	Link string                 `json:"link"`
	Data map[string]interface{} `json:"data"`
}

// Store wraps a Data Service, splitting registered fields of registered
// resource types into a companion blob store.
type Store struct {
	DS                 *dataservice.Service
	Blob               blobstore.Store
	EnableMultiTenancy bool
	KeySeparator       string

	registrations map[string][]string
}

// New returns a Store with the given offload registrations frozen in
// place; regs is never consulted again after this call returns.
func New(ds *dataservice.Service, blob blobstore.Store, enableMultiTenancy bool, keySeparator string, regs map[string][]string) *Store {
	frozen := make(map[string][]string, len(regs))
	for resourceType, fields := range regs {
		cp := make([]string, len(fields))
		copy(cp, fields)
		frozen[resourceType] = cp
	}
	if keySeparator == "" {
		keySeparator = "_"
	}
	return &Store{DS: ds, Blob: blob, EnableMultiTenancy: enableMultiTenancy, KeySeparator: keySeparator, registrations: frozen}
}

func (s *Store) offloadFields(resourceType string) ([]string, bool) {
	fields, ok := s.registrations[resourceType]
	return fields, ok
}

func (s *Store) checkTenancy(tenantID string) error {
	if s.EnableMultiTenancy && tenantID == "" {
		return errors.Wrap(rstore.ErrTenancyMismatch, "hybrid: multi-tenancy enabled but no tenantId supplied")
	}
	if !s.EnableMultiTenancy && tenantID != "" {
		return errors.Wrap(rstore.ErrTenancyMismatch, "hybrid: multi-tenancy disabled but tenantId supplied")
	}
	return nil
}

func (s *Store) blobKey(resourceType, id, tenantID string) string {
	prefix := ""
	if tenantID != "" {
		prefix = tenantID + "/"
	}
	return fmt.Sprintf("%s%s/%s%s%s.json", prefix, resourceType, id, s.KeySeparator, uuid.NewString())
}

// CreateResource offloads any registered fields of resourceType to the
// blob store before inserting the stripped resource, following a
// blob-first write ordering.
func (s *Store) CreateResource(ctx context.Context, resource rstore.Resource, resourceType, tenantID string) (rstore.Resource, error) {
	if err := s.checkTenancy(tenantID); err != nil {
		return nil, err
	}
	fields, ok := s.offloadFields(resourceType)
	if !ok {
		return s.DS.CreateResource(ctx, resource, resourceType, tenantID)
	}

	id := resource.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stripped, offloaded := split(resource, fields)
	if len(offloaded) == 0 {
		return s.DS.CreateResource(ctx, resource, resourceType, tenantID)
	}

	key := s.blobKey(resourceType, id, tenantID)
	if err := s.putBlob(ctx, key, offloaded); err != nil {
		return nil, errors.Wrap(err, "hybrid: uploading offloaded fields")
	}

	stripped["id"] = id
	stripped["bulkDataLink"] = key
	created, err := s.DS.CreateResource(ctx, stripped, resourceType, tenantID)
	if err != nil {
		if delErr := s.Blob.Delete(ctx, key); delErr != nil {
			log.Printf("hybrid: cleanup of orphaned blob %s failed: %s", key, delErr)
			raven.CaptureError(delErr, map[string]string{"key": key})
		}
		return nil, err
	}
	return s.compose(created, offloaded), nil
}

// UpdateResource offloads any registered fields exactly as CreateResource
// does, then delegates the stripped resource to the Data Service's
// update path.
func (s *Store) UpdateResource(ctx context.Context, resource rstore.Resource, resourceType, id, tenantID string) (rstore.Resource, error) {
	if err := s.checkTenancy(tenantID); err != nil {
		return nil, err
	}
	fields, ok := s.offloadFields(resourceType)
	if !ok {
		return s.DS.UpdateResource(ctx, resource, resourceType, id, tenantID)
	}

	stripped, offloaded := split(resource, fields)
	if len(offloaded) == 0 {
		return s.DS.UpdateResource(ctx, resource, resourceType, id, tenantID)
	}

	key := s.blobKey(resourceType, id, tenantID)
	if err := s.putBlob(ctx, key, offloaded); err != nil {
		return nil, errors.Wrap(err, "hybrid: uploading offloaded fields")
	}

	stripped["bulkDataLink"] = key
	updated, err := s.DS.UpdateResource(ctx, stripped, resourceType, id, tenantID)
	if err != nil {
		if delErr := s.Blob.Delete(ctx, key); delErr != nil {
			log.Printf("hybrid: cleanup of orphaned blob %s failed: %s", key, delErr)
			raven.CaptureError(delErr, map[string]string{"key": key})
		}
		return nil, err
	}
	return s.compose(updated, offloaded), nil
}

// ReadMostRecent reads the stripped resource and, if it carries a
// bulkDataLink, fetches and splices the offloaded fields back in. Any
// blob-fetch or link-mismatch failure surfaces as ResourceNotFound; a
// composition failure is never masked by falling back to the stripped
// resource.
func (s *Store) ReadMostRecent(ctx context.Context, resourceType, id, tenantID string) (rstore.Resource, error) {
	if err := s.checkTenancy(tenantID); err != nil {
		return nil, err
	}
	resource, err := s.DS.ReadMostRecent(ctx, resourceType, id, tenantID)
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, resource, resourceType, id)
}

// ReadVersion mirrors ReadMostRecent for a specific version.
func (s *Store) ReadVersion(ctx context.Context, resourceType, id string, vid int64, tenantID string) (rstore.Resource, error) {
	if err := s.checkTenancy(tenantID); err != nil {
		return nil, err
	}
	resource, err := s.DS.ReadVersion(ctx, resourceType, id, vid, tenantID)
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, resource, resourceType, id)
}

func (s *Store) attach(ctx context.Context, resource rstore.Resource, resourceType, id string) (rstore.Resource, error) {
	link, _ := resource["bulkDataLink"].(string)
	if link == "" {
		return resource, nil
	}
	obj, err := s.getBlob(ctx, link)
	if err != nil {
		return nil, rstore.NewResourceNotFound(resourceType, id)
	}
	if obj.Link != link {
		return nil, rstore.NewResourceNotFound(resourceType, id)
	}
	return s.compose(resource, obj.Data), nil
}

// DeleteResource reads the current version, then concurrently deletes
// the blob (if any) and transitions the primary item, both best-effort:
// a KV-transition failure leaves an orphaned blob, reclaimable by GC.
func (s *Store) DeleteResource(ctx context.Context, resourceType, id, tenantID string) (string, error) {
	if err := s.checkTenancy(tenantID); err != nil {
		return "", err
	}
	current, err := s.DS.ReadMostRecent(ctx, resourceType, id, tenantID)
	if err != nil {
		return "", err
	}
	link, _ := current["bulkDataLink"].(string)

	var wg sync.WaitGroup
	var msg string
	var deleteErr error

	if link != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Blob.Delete(ctx, link); err != nil {
				log.Printf("hybrid: delete of blob %s failed: %s", link, err)
				raven.CaptureError(err, map[string]string{"key": link})
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		msg, deleteErr = s.DS.DeleteResource(ctx, resourceType, id, tenantID)
	}()

	wg.Wait()
	if deleteErr != nil {
		return "", deleteErr
	}
	return msg, nil
}

func (s *Store) putBlob(ctx context.Context, key string, data map[string]interface{}) error {
	obj := bulkObject{Link: key, Data: data}
	body, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return s.Blob.Put(ctx, key, body, "application/json")
}

func (s *Store) getBlob(ctx context.Context, key string) (*bulkObject, error) {
	body, err := s.Blob.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var obj bulkObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// compose splices offloaded fields back onto resource and strips
// bulkDataLink, without mutating the caller's map.
func (s *Store) compose(resource rstore.Resource, offloaded map[string]interface{}) rstore.Resource {
	out := resource.Clone()
	delete(out, "bulkDataLink")
	for k, v := range offloaded {
		out[k] = v
	}
	return out
}

// split returns a copy of resource with fields removed, and a map of
// exactly the removed field/value pairs that were actually present.
func split(resource rstore.Resource, fields []string) (rstore.Resource, map[string]interface{}) {
	stripped := resource.Clone()
	offloaded := make(map[string]interface{})
	for _, f := range fields {
		if v, ok := stripped[f]; ok {
			offloaded[f] = v
			delete(stripped, f)
		}
	}
	return stripped, offloaded
}
