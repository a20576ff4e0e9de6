package searchindex

import (
	"context"
	"sync"
)

// Memory is an in-memory Index used for tests. Physical index names and
// aliases are kept in separate maps here, so an index and an alias of
// the same name do not collide as they would on a real Elasticsearch
// cluster; this is sufficient to exercise the Change Propagator's
// create/attach/bulk sequencing without a real cluster.
type Memory struct {
	mu      sync.Mutex
	indices map[string][]byte                     // physical index name -> mapping
	aliases map[string]string                     // alias -> physical index name
	docs    map[string]map[string]map[string]interface{} // alias -> id -> doc body
}

var _ Index = &Memory{}

// NewMemory returns a new, empty in-memory Index.
func NewMemory() *Memory {
	return &Memory{
		indices: make(map[string][]byte),
		aliases: make(map[string]string),
		docs:    make(map[string]map[string]map[string]interface{}),
	}
}

func (m *Memory) EnsureIndex(ctx context.Context, name string, mapping []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[name]; !ok {
		m.indices[name] = mapping
	}
	return nil
}

func (m *Memory) AliasExists(ctx context.Context, alias string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.aliases[alias]
	return ok, nil
}

func (m *Memory) IndexExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indices[name]
	return ok, nil
}

func (m *Memory) AttachAlias(ctx context.Context, name, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[alias] = name
	if _, ok := m.docs[alias]; !ok {
		m.docs[alias] = make(map[string]map[string]interface{})
	}
	return nil
}

func (m *Memory) Bulk(ctx context.Context, ops []BulkOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		bucket, ok := m.docs[op.Alias]
		if !ok {
			bucket = make(map[string]map[string]interface{})
			m.docs[op.Alias] = bucket
		}
		switch op.Kind {
		case BulkUpsert:
			bucket[op.ID] = op.Doc
		case BulkDelete:
			delete(bucket, op.ID)
		}
	}
	return nil
}

// HasDoc reports whether id is currently indexed under alias, for tests.
func (m *Memory) HasDoc(alias, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[alias][id]
	return ok
}

// Doc returns the indexed body for id under alias, for tests.
func (m *Memory) Doc(alias, id string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[alias][id]
	return doc, ok
}
