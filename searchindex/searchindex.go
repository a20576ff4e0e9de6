// Package searchindex is the search index abstraction: index creation
// with a mapping, alias management, and a batched bulk document
// operation, consumed by the Change Propagator.
package searchindex

import "context"

// BulkOpKind names the two document operations a single Bulk call may
// batch together.
type BulkOpKind int

const (
	BulkUpsert BulkOpKind = iota
	BulkDelete
)

// BulkOp is one document operation targeting an alias, batched together
// with others in a single Bulk call.
type BulkOp struct {
	Kind  BulkOpKind
	Alias string
	ID    string
	Doc   map[string]interface{} // required for BulkUpsert, ignored for BulkDelete
}

// Index is the search index abstraction the Change Propagator targets.
type Index interface {
	EnsureIndex(ctx context.Context, name string, mapping []byte) error
	AliasExists(ctx context.Context, alias string) (bool, error)
	IndexExists(ctx context.Context, name string) (bool, error)
	AttachAlias(ctx context.Context, name, alias string) error
	Bulk(ctx context.Context, ops []BulkOp) error
}
