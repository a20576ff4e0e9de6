// Package versionstore is the Version Store: point and range access
// over the primary table, plus the one guarded status transition
// primitive every write path (Data Service, Bundle Service) builds on.
package versionstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/paramz"
)

// Store is the Version Store, bound to one primary kvstore.Store.
type Store struct {
	KV             kvstore.Store
	Now            func() time.Time
	LockDurationMS int64
}

// New returns a Store using the default clock and lock duration.
func New(kv kvstore.Store) *Store {
	return &Store{KV: kv, Now: time.Now, LockDurationMS: rstore.DefaultLockDurationMS}
}

// ReadMostRecent fetches up to the two most recent versions of
// (resourceType, storageId) and picks the current one, falling back
// past a PENDING head to the prior AVAILABLE version.
func (s *Store) ReadMostRecent(ctx context.Context, resourceType, storageID string) (*rstore.Item, error) {
	q := paramz.QueryMostRecentVersions(storageID, 2, nil)
	rows, err := s.KV.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "versionstore: query most recent")
	}
	if len(rows) == 0 {
		return nil, rstore.NewResourceNotFound(resourceType, storageID)
	}

	top := kvstore.AttributesToItem(rows[0])
	switch top.DocumentStatus {
	case rstore.StatusDeleted:
		return nil, rstore.NewResourceNotFound(resourceType, storageID)
	case rstore.StatusAvailable, rstore.StatusLocked, rstore.StatusPendingDelete:
		return top, nil
	case rstore.StatusPending:
		if len(rows) >= 2 {
			return kvstore.AttributesToItem(rows[1]), nil
		}
		return nil, rstore.NewResourceNotFound(resourceType, storageID)
	default:
		return nil, rstore.NewResourceNotFound(resourceType, storageID)
	}
}

// ReadVersion is a point-get that fails with VersionNotFound if the
// item is absent, its stored resourceType does not match, or its
// documentStatus is not AVAILABLE.
func (s *Store) ReadVersion(ctx context.Context, resourceType, storageID string, vid int64) (*rstore.Item, error) {
	attrs, err := s.KV.GetItem(ctx, kvstore.Key{StorageID: storageID, Vid: vid}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "versionstore: get item")
	}
	if attrs == nil {
		return nil, &rstore.VersionNotFoundError{ResourceType: resourceType, ID: storageID, VersionID: strconv.FormatInt(vid, 10)}
	}
	item := kvstore.AttributesToItem(attrs)
	if item.ResourceType != resourceType || item.DocumentStatus != rstore.StatusAvailable {
		return nil, &rstore.VersionNotFoundError{ResourceType: resourceType, ID: storageID, VersionID: strconv.FormatInt(vid, 10)}
	}
	return item, nil
}

// TransitionStatus applies the guarded status transition on
// (resourceType, key), from oldStatus to newStatus. A failed guard
// surfaces kvstore.ErrConditionFailed to the caller, which interprets
// it by context (contention during a bundle, or ResourceNotFound on
// delete).
func (s *Store) TransitionStatus(ctx context.Context, resourceType string, key kvstore.Key, oldStatus, newStatus rstore.DocumentStatus) error {
	nowMillis := s.Now().UnixMilli()
	w := paramz.StatusTransition(resourceType, key, oldStatus, newStatus, nowMillis, s.lockDurationMS())
	if err := s.KV.PutItem(ctx, w); err != nil {
		return err
	}
	return nil
}

func (s *Store) lockDurationMS() int64 {
	if s.LockDurationMS > 0 {
		return s.LockDurationMS
	}
	return rstore.DefaultLockDurationMS
}
