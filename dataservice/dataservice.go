// Package dataservice is the Data Service: single-resource CRUD
// enforcing the per-resource version lifecycle. Creates take the fast
// path (no PENDING phase, since the key is new); updates and deletes
// fall through to the guarded transition primitives, with updates
// delegating to the Bundle Service as a single-element bundle.
package dataservice

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/bundle"
	"github.com/ndlib/rstore/codec"
	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/paramz"
	"github.com/ndlib/rstore/versionstore"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Service is the Data Service, bound to one primary store and one Bundle
// Service used for the update path.
type Service struct {
	KV                    kvstore.Store
	VS                    *versionstore.Store
	Bundle                *bundle.Service
	Codec                 *codec.Codec
	UpdateCreateSupported bool
}

// New wires a Service against kv with its own Version Store and a
// Bundle Service over the same kv; bundle.New gives that Bundle Service
// a Version Store instance of its own.
func New(kv kvstore.Store, updateCreateSupported bool) *Service {
	return &Service{
		KV:                    kv,
		VS:                    versionstore.New(kv),
		Bundle:                bundle.New(kv),
		Codec:                 codec.New(),
		UpdateCreateSupported: updateCreateSupported,
	}
}

// CreateResource uses the resource's own id if it carries one and
// otherwise generates a fresh one, encodes the resource directly at
// vid=1 with status AVAILABLE, and inserts it conditioned on the
// composite storage id not already existing. No PENDING phase runs,
// since the key is guaranteed new.
func (s *Service) CreateResource(ctx context.Context, resource rstore.Resource, resourceType, tenantID string) (rstore.Resource, error) {
	id := resource.ID()
	if id == "" {
		id = uuid.NewString()
	}
	item := s.Codec.EncodeForInsert(resource, resourceType, id, 1, rstore.StatusAvailable, tenantID)
	w := paramz.InsertNewVersion(item, false)
	if err := s.KV.PutItem(ctx, w); err != nil {
		if errors.Is(err, kvstore.ErrConditionFailed) {
			return nil, &rstore.InvalidResourceError{Reason: "id matches an existing resource"}
		}
		return nil, errors.Wrap(err, "dataservice: create")
	}
	return codec.DecodeForRead(item, nil), nil
}

// UpdateResource reads the current version to confirm existence, then
// delegates to the Bundle Service with a single-element update bundle.
// If the id is absent and update-create is enabled, it falls through to
// CreateResource after validating the id looks like a uuid.
func (s *Service) UpdateResource(ctx context.Context, resource rstore.Resource, resourceType, id, tenantID string) (rstore.Resource, error) {
	storageID := codec.BuildStorageID(id, tenantID)
	_, err := s.VS.ReadMostRecent(ctx, resourceType, storageID)
	if err != nil {
		if errors.Is(err, rstore.ErrResourceNotFound) && s.UpdateCreateSupported {
			if !uuidPattern.MatchString(id) {
				return nil, &rstore.InvalidResourceError{Reason: fmt.Sprintf("id %q is not a valid uuid", id)}
			}
			resource = resource.Clone()
			resource["id"] = id
			return s.CreateResource(ctx, resource, resourceType, tenantID)
		}
		return nil, err
	}

	resp, err := s.Bundle.Execute(ctx, []bundle.BatchRequest{
		{Operation: bundle.OpUpdate, ResourceType: resourceType, ID: id, Resource: resource, TenantID: tenantID},
	})
	if err != nil {
		return nil, err
	}
	item := s.Codec.EncodeForInsert(resource, resourceType, id, resp[0].Vid, rstore.StatusAvailable, tenantID)
	return codec.DecodeForRead(item, nil), nil
}

// DeleteResource reads the current version to find its vid, then applies
// the guarded AVAILABLE→DELETED transition directly (no bundle, since a
// single-resource delete needs no staging beyond the transition itself).
// It returns a human-readable confirmation message.
func (s *Service) DeleteResource(ctx context.Context, resourceType, id, tenantID string) (string, error) {
	storageID := codec.BuildStorageID(id, tenantID)
	current, err := s.VS.ReadMostRecent(ctx, resourceType, storageID)
	if err != nil {
		return "", err
	}

	key := kvstore.Key{StorageID: storageID, Vid: current.Vid}
	if err := s.VS.TransitionStatus(ctx, resourceType, key, rstore.StatusAvailable, rstore.StatusDeleted); err != nil {
		if errors.Is(err, kvstore.ErrConditionFailed) {
			return "", rstore.NewResourceNotFound(resourceType, id)
		}
		return "", errors.Wrap(err, "dataservice: delete")
	}
	return fmt.Sprintf("Successfully deleted %s/%s, version %d", resourceType, id, current.Vid), nil
}

// ReadMostRecent returns the current version of (resourceType, id),
// decoded to the caller-visible shape.
func (s *Service) ReadMostRecent(ctx context.Context, resourceType, id, tenantID string) (rstore.Resource, error) {
	storageID := codec.BuildStorageID(id, tenantID)
	item, err := s.VS.ReadMostRecent(ctx, resourceType, storageID)
	if err != nil {
		return nil, err
	}
	return codec.DecodeForRead(item, nil), nil
}

// ReadVersion returns a specific version of (resourceType, id).
func (s *Service) ReadVersion(ctx context.Context, resourceType, id string, vid int64, tenantID string) (rstore.Resource, error) {
	storageID := codec.BuildStorageID(id, tenantID)
	item, err := s.VS.ReadVersion(ctx, resourceType, storageID, vid)
	if err != nil {
		return nil, err
	}
	return codec.DecodeForRead(item, nil), nil
}
