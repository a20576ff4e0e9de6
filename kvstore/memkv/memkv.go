// Package memkv is an in-memory kvstore.Store and kvstore.ChangeFeed used
// by unit tests and local development, backed by a mutex-guarded map.
// Conditional writes are evaluated with kvstore/condeval rather than
// DynamoDB's own expression engine, since this store keeps items as
// plain Go maps.
package memkv

import (
	"context"
	"sync"

	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/kvstore/condeval"
)

type record struct {
	key   kvstore.Key
	attrs kvstore.Attributes
}

// Store is a single-process, all-shard-in-one kvstore.Store. It also
// implements kvstore.ChangeFeed by recording every mutation to a single
// shard named "0" in commit order.
type Store struct {
	mu      sync.RWMutex
	items   map[kvstore.Key]kvstore.Attributes
	changes []kvstore.ChangeRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[kvstore.Key]kvstore.Attributes)}
}

func cloneAttrs(a kvstore.Attributes) kvstore.Attributes {
	if a == nil {
		return nil
	}
	out := make(kvstore.Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (s *Store) evalCondition(expr string, key kvstore.Key, names map[string]string, values map[string]interface{}) (bool, error) {
	existing, ok := s.items[key]
	if !ok {
		existing = kvstore.Attributes{}
	}
	return condeval.Eval(expr, existing, names, values)
}

// PutItem implements kvstore.Store.
func (s *Store) PutItem(ctx context.Context, w kvstore.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(w)
}

func (s *Store) applyLocked(w kvstore.WriteRequest) error {
	ok, err := s.evalCondition(w.ConditionExpression, w.Key, w.ExpressionAttributeNames, w.ExpressionAttributeValues)
	if err != nil {
		return err
	}
	if !ok {
		return kvstore.ErrConditionFailed
	}

	old, existed := s.items[w.Key]

	switch w.Op {
	case kvstore.OpPut:
		s.items[w.Key] = cloneAttrs(w.Item)
		s.record(existed, old, s.items[w.Key])
	case kvstore.OpUpdate:
		merged := cloneAttrs(old)
		if merged == nil {
			merged = kvstore.Attributes{}
		}
		for k, v := range w.Updates {
			merged[k] = v
		}
		s.items[w.Key] = merged
		s.record(existed, old, merged)
	case kvstore.OpDelete:
		delete(s.items, w.Key)
		if existed {
			s.changes = append(s.changes, kvstore.ChangeRecord{
				EventType: kvstore.ChangeRemove,
				OldImage:  old,
				ShardID:   "0",
			})
		}
	case kvstore.OpConditionCheck:
		// nothing to mutate; the condition above already gated this call.
	}
	return nil
}

func (s *Store) record(existed bool, old, new kvstore.Attributes) {
	evt := kvstore.ChangeInsert
	if existed {
		evt = kvstore.ChangeModify
	}
	s.changes = append(s.changes, kvstore.ChangeRecord{
		EventType: evt,
		OldImage:  old,
		NewImage:  new,
		ShardID:   "0",
	})
}

// GetItem implements kvstore.Store.
func (s *Store) GetItem(ctx context.Context, key kvstore.Key, projection []string) (kvstore.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return project(cloneAttrs(attrs), projection), nil
}

func project(attrs kvstore.Attributes, projection []string) kvstore.Attributes {
	if len(projection) == 0 {
		return attrs
	}
	want := make(map[string]struct{}, len(projection))
	for _, f := range projection {
		want[f] = struct{}{}
	}
	out := make(kvstore.Attributes, len(projection))
	for k, v := range attrs {
		if _, ok := want[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Query implements kvstore.Store. It supports the two shapes paramz
// produces: an equality match on StorageID carried in
// ExpressionAttributeValues[":sid"], and, when IndexName is set, an
// equality match of the attribute named by "#status" against ":status".
// Matches are returned in descending or ascending vid order.
func (s *Store) Query(ctx context.Context, q kvstore.QueryInput) ([]kvstore.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []record
	if q.IndexName != "" {
		status, _ := q.ExpressionAttributeValues[":status"].(string)
		statusField := q.ExpressionAttributeNames["#status"]
		for k, attrs := range s.items {
			if v, _ := attrs[statusField].(string); v == status {
				matches = append(matches, record{key: k, attrs: attrs})
			}
		}
	} else {
		sid, _ := q.ExpressionAttributeValues[":sid"].(string)
		for k, attrs := range s.items {
			if k.StorageID == sid {
				matches = append(matches, record{key: k, attrs: attrs})
			}
		}
	}

	sortByVid(matches, q.ScanIndexForward)

	if q.Limit > 0 && int32(len(matches)) > q.Limit {
		matches = matches[:q.Limit]
	}

	out := make([]kvstore.Attributes, len(matches))
	for i, m := range matches {
		out[i] = project(cloneAttrs(m.attrs), q.Projection)
	}
	return out, nil
}

func sortByVid(recs []record, ascending bool) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0; j-- {
			less := recs[j].key.Vid < recs[j-1].key.Vid
			if !ascending {
				less = recs[j].key.Vid > recs[j-1].key.Vid
			}
			if !less {
				break
			}
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// TransactWrite implements kvstore.Store. All condition checks are
// evaluated against the pre-transaction state before any write is
// applied, matching DynamoDB's all-or-nothing semantics.
func (s *Store) TransactWrite(ctx context.Context, writes []kvstore.WriteRequest) error {
	if len(writes) > kvstore.MaxTransactItems {
		return kvstore.ErrTransactionTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		ok, err := s.evalCondition(w.ConditionExpression, w.Key, w.ExpressionAttributeNames, w.ExpressionAttributeValues)
		if err != nil {
			return err
		}
		if !ok {
			return kvstore.ErrConditionFailed
		}
	}
	for _, w := range writes {
		if err := s.applyLocked(w); err != nil {
			return err
		}
	}
	return nil
}

// DeleteItem implements kvstore.Store.
func (s *Store) DeleteItem(ctx context.Context, key kvstore.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, existed := s.items[key]
	delete(s.items, key)
	if existed {
		s.changes = append(s.changes, kvstore.ChangeRecord{
			EventType: kvstore.ChangeRemove,
			OldImage:  old,
			ShardID:   "0",
		})
	}
	return nil
}

// Shards implements kvstore.ChangeFeed. memkv keeps a single shard.
func (s *Store) Shards(ctx context.Context) ([]string, error) {
	return []string{"0"}, nil
}

// Records implements kvstore.ChangeFeed. after is the decimal index of
// the last record already consumed; it is opaque to callers.
func (s *Store) Records(ctx context.Context, shardID, after string) ([]kvstore.ChangeRecord, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if after != "" {
		start = decodeSeq(after) + 1
	}
	if start >= len(s.changes) {
		return nil, encodeSeq(len(s.changes) - 1), nil
	}
	out := make([]kvstore.ChangeRecord, len(s.changes)-start)
	for i, r := range s.changes[start:] {
		r.SequenceNum = encodeSeq(start + i)
		out[i] = r
	}
	return out, encodeSeq(len(s.changes) - 1), nil
}

func encodeSeq(i int) string {
	if i < 0 {
		return ""
	}
	digits := []byte{}
	n := i
	for n > 0 || len(digits) == 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func decodeSeq(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
