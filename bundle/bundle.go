// Package bundle is the Bundle Service: a two-phase commit over the
// primary store's bounded conditional-write transactions, staging every
// participant into a transient status before promoting the whole batch
// to its final state, and rolling back cleanly on any participant
// failure. The primary table's own transient documentStatus values
// serve as the lock here, rather than a separate lock table.
package bundle

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/codec"
	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/paramz"
	"github.com/ndlib/rstore/versionstore"
)

// Operation names one participant's action within a bundle.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpRead   Operation = "read"
)

// BatchRequest is one participant of a bundle.
type BatchRequest struct {
	Operation    Operation
	ResourceType string
	ID           string // may be empty for create, meaning "generate one"
	Resource     rstore.Resource
	TenantID     string
}

// BatchResponse is the outcome of one participant, populated once the
// bundle as a whole commits.
type BatchResponse struct {
	Index        int
	Operation    Operation
	ResourceType string
	ID           string
	Vid          int64
	LastModified string
	Resource     rstore.Resource
	Err          error
}

// Service executes bundles against one primary store.
type Service struct {
	KV             kvstore.Store
	VS             *versionstore.Store
	Codec          *codec.Codec
	Now            func() time.Time
	LockDurationMS int64
}

// New returns a Service using the default clock and lock duration.
func New(kv kvstore.Store) *Service {
	return &Service{
		KV:             kv,
		VS:             versionstore.New(kv),
		Codec:          codec.New(),
		Now:            time.Now,
		LockDurationMS: rstore.DefaultLockDurationMS,
	}
}

func (s *Service) lockDurationMS() int64 {
	if s.LockDurationMS > 0 {
		return s.LockDurationMS
	}
	return rstore.DefaultLockDurationMS
}

// staged is one participant's Phase-1 outcome, carried into Phase 2 and
// rollback.
type staged struct {
	req         BatchRequest
	storageID   string
	newVid      int64
	insertedKey *kvstore.Key // set for create/update: the newly-inserted (storageId, vid)
	deleteKey   *kvstore.Key // set for delete: the existing (storageId, vid) moved to PENDING_DELETE
}

// Execute runs reqs as a single atomic bundle.
func (s *Service) Execute(ctx context.Context, reqs []BatchRequest) ([]BatchResponse, error) {
	// Phase 0: pre-resolution.
	idToVersionID := make(map[string]int64)
	for _, req := range reqs {
		if req.Operation != OpUpdate && req.Operation != OpDelete && req.Operation != OpRead {
			continue
		}
		storageID := codec.BuildStorageID(req.ID, req.TenantID)
		if _, ok := idToVersionID[storageID]; ok {
			continue
		}
		current, err := s.VS.ReadMostRecent(ctx, req.ResourceType, storageID)
		if err != nil {
			return nil, err
		}
		idToVersionID[storageID] = current.Vid
	}

	// Phase 1: staging.
	stagedEntries := make([]staged, len(reqs))
	var writes []kvstore.WriteRequest

	for i, req := range reqs {
		st := staged{req: req}
		storageID := codec.BuildStorageID(req.ID, req.TenantID)
		st.storageID = storageID

		switch req.Operation {
		case OpCreate:
			id := req.ID
			if id == "" {
				id = uuid.NewString()
			}
			st.req.ID = id
			storageID = codec.BuildStorageID(id, req.TenantID)
			st.storageID = storageID
			st.newVid = 1
			item := s.Codec.EncodeForInsert(req.Resource, req.ResourceType, id, 1, rstore.StatusPending, req.TenantID)
			writes = append(writes, paramz.InsertNewVersion(item, false))
			key := kvstore.Key{StorageID: storageID, Vid: 1}
			st.insertedKey = &key

		case OpUpdate:
			newVid := idToVersionID[storageID] + 1
			st.newVid = newVid
			item := s.Codec.EncodeForInsert(req.Resource, req.ResourceType, req.ID, newVid, rstore.StatusPending, req.TenantID)
			writes = append(writes, paramz.InsertNewVersion(item, false))
			key := kvstore.Key{StorageID: storageID, Vid: newVid}
			st.insertedKey = &key

		case OpDelete:
			vid := idToVersionID[storageID]
			st.newVid = vid
			key := kvstore.Key{StorageID: storageID, Vid: vid}
			nowMillis := s.Now().UnixMilli()
			writes = append(writes, paramz.StatusTransition(req.ResourceType, key, rstore.StatusAvailable, rstore.StatusPendingDelete, nowMillis, s.lockDurationMS()))
			st.deleteKey = &key

		case OpRead:
			st.newVid = idToVersionID[storageID]
		}

		stagedEntries[i] = st
	}

	if err := s.commitBatch(ctx, writes); err != nil {
		s.rollback(ctx, stagedEntries)
		return nil, &rstore.BundleFailureError{Entries: []rstore.BundleEntryOutcome{{Index: -1, Err: errors.Wrap(err, "bundle: phase 1 staging failed")}}}
	}

	// Phase 2: commit.
	var promotions []kvstore.WriteRequest
	for _, st := range stagedEntries {
		switch st.req.Operation {
		case OpCreate, OpUpdate:
			nowMillis := s.Now().UnixMilli()
			promotions = append(promotions, paramz.StatusTransition(st.req.ResourceType, *st.insertedKey, rstore.StatusPending, rstore.StatusAvailable, nowMillis, s.lockDurationMS()))
		case OpDelete:
			nowMillis := s.Now().UnixMilli()
			promotions = append(promotions, paramz.StatusTransition(st.req.ResourceType, *st.deleteKey, rstore.StatusPendingDelete, rstore.StatusDeleted, nowMillis, s.lockDurationMS()))
		}
	}

	if err := s.commitBatch(ctx, promotions); err != nil {
		s.rollback(ctx, stagedEntries)
		return nil, &rstore.BundleFailureError{Entries: []rstore.BundleEntryOutcome{{Index: -1, Err: errors.Wrap(err, "bundle: phase 2 commit failed")}}}
	}

	responses := make([]BatchResponse, len(stagedEntries))
	for i, st := range stagedEntries {
		resp := BatchResponse{
			Index:        i,
			Operation:    st.req.Operation,
			ResourceType: st.req.ResourceType,
			ID:           st.req.ID,
			Vid:          st.newVid,
		}
		if st.req.Operation == OpRead {
			key := kvstore.Key{StorageID: st.storageID, Vid: st.newVid}
			attrs, err := s.KV.GetItem(ctx, key, nil)
			if err != nil || attrs == nil {
				s.rollback(ctx, stagedEntries)
				return nil, &rstore.BundleFailureError{Entries: []rstore.BundleEntryOutcome{{Index: i, Err: rstore.NewResourceNotFound(st.req.ResourceType, st.req.ID)}}}
			}
			item := kvstore.AttributesToItem(attrs)
			resp.Resource = codec.DecodeForRead(item, nil)
			if meta, ok := resp.Resource["meta"].(map[string]interface{}); ok {
				resp.LastModified, _ = meta["lastUpdated"].(string)
			}
		} else {
			resp.LastModified = time.UnixMilli(s.Now().UnixMilli()).UTC().Format(time.RFC3339Nano)
		}
		responses[i] = resp
	}
	return responses, nil
}

// commitBatch submits writes as one or more sequential transactional
// sub-batches, each bounded to kvstore.MaxTransactItems.
func (s *Service) commitBatch(ctx context.Context, writes []kvstore.WriteRequest) error {
	for len(writes) > 0 {
		n := kvstore.MaxTransactItems
		if n > len(writes) {
			n = len(writes)
		}
		if err := s.KV.TransactWrite(ctx, writes[:n]); err != nil {
			return err
		}
		writes = writes[n:]
	}
	return nil
}

// rollback undoes every staged create/update (deleting the newly
// inserted row) and every staged delete (reverting PENDING_DELETE back
// to AVAILABLE). Rollback is idempotent; partial failures are logged but
// do not change the bundle's already-failed outcome.
func (s *Service) rollback(ctx context.Context, entries []staged) {
	for _, st := range entries {
		switch st.req.Operation {
		case OpCreate, OpUpdate:
			if st.insertedKey == nil {
				continue
			}
			w := paramz.DeleteItemUnconditional(*st.insertedKey)
			if err := s.KV.PutItem(ctx, w); err != nil {
				log.Printf("bundle rollback: delete %+v: %s", *st.insertedKey, err)
				raven.CaptureError(err, map[string]string{"storageId": st.insertedKey.StorageID})
			}
		case OpDelete:
			if st.deleteKey == nil {
				continue
			}
			nowMillis := s.Now().UnixMilli()
			w := paramz.StatusTransition(st.req.ResourceType, *st.deleteKey, rstore.StatusPendingDelete, rstore.StatusAvailable, nowMillis, s.lockDurationMS())
			if err := s.KV.PutItem(ctx, w); err != nil {
				log.Printf("bundle rollback: revert %+v: %s", *st.deleteKey, err)
				raven.CaptureError(err, map[string]string{"storageId": st.deleteKey.StorageID})
			}
		}
	}
}
