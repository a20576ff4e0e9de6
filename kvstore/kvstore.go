// Package kvstore defines the primary key-value store abstraction:
// atomic multi-item transactions with per-item conditional expressions,
// a query API with partition/range ordering and projection, and an
// ordered change feed emitting old/new images. Param Builder
// (package paramz) emits WriteRequest and QueryInput values shaped
// exactly like this package's types, so a DynamoDB-backed Store is a thin
// pass-through and any other backend has one place to translate a
// condition expression into its own dialect.
package kvstore

import (
	"context"
	"errors"
)

// Op names the kind of mutation a WriteRequest performs.
type Op int

const (
	OpPut Op = iota
	OpUpdate
	OpDelete
	OpConditionCheck
)

// Attributes is a flat item as the store sees it: string keys to Go
// native values (string, int64, float64, bool, []string, []interface{},
// map[string]interface{}, or nil). It mirrors a DynamoDB item once
// unmarshaled from AttributeValues.
type Attributes map[string]interface{}

// Key identifies one stored item by its composite primary key.
type Key struct {
	StorageID string
	Vid       int64
}

// WriteRequest is one participant of a PutItem, UpdateItem, DeleteItem, or
// a transaction item. Item is required for OpPut; Updates is required for
// OpUpdate. ConditionExpression, ExpressionAttributeNames, and
// ExpressionAttributeValues follow the same shape a DynamoDB request
// takes, so paramz can build them once and every backend interprets the
// same descriptor.
type WriteRequest struct {
	Op                        Op
	Key                       Key
	Item                      Attributes
	Updates                   map[string]interface{}
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]interface{}
}

// QueryInput describes a range query against the primary table or a
// secondary index.
type QueryInput struct {
	StorageID                 string
	IndexName                 string
	KeyConditionExpression    string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]interface{}
	ScanIndexForward          bool
	Limit                     int32
	Projection                []string
}

// MaxTransactItems bounds a single TransactWrite call, matching
// DynamoDB's TransactWriteItems limit. Bundle Service is responsible for
// splitting a larger batch into sequential sub-batches;
// TransactWrite itself refuses an oversized batch instead of silently
// truncating it.
const MaxTransactItems = 100

// ErrTransactionTooLarge is returned by TransactWrite when the caller did
// not first split the batch to MaxTransactItems or fewer.
var ErrTransactionTooLarge = errors.New("kvstore: transaction exceeds MaxTransactItems")

// ErrConditionFailed is returned when a conditional write's condition
// expression evaluates false. Callers interpret this by context:
// InvalidResource on insert, contention-triggering rollback during a
// bundle, ResourceNotFound on delete.
var ErrConditionFailed = errors.New("kvstore: condition check failed")

// Store is the KV store abstraction every core component targets.
type Store interface {
	PutItem(ctx context.Context, w WriteRequest) error
	GetItem(ctx context.Context, key Key, projection []string) (Attributes, error)
	Query(ctx context.Context, q QueryInput) ([]Attributes, error)
	TransactWrite(ctx context.Context, writes []WriteRequest) error
	DeleteItem(ctx context.Context, key Key) error
}

// ChangeEventType names the kind of mutation a ChangeRecord carries.
type ChangeEventType int

const (
	ChangeInsert ChangeEventType = iota
	ChangeModify
	ChangeRemove
)

// ChangeRecord is one entry of the primary table's change feed, carrying
// old and new images.
type ChangeRecord struct {
	EventType   ChangeEventType
	OldImage    Attributes
	NewImage    Attributes
	ShardID     string
	SequenceNum string
}

// ChangeFeed is the ordered, per-shard change stream the Change
// Propagator consumes. There is no cross-shard ordering guarantee.
type ChangeFeed interface {
	Shards(ctx context.Context) ([]string, error)
	// Records returns the records after the given sequence number (empty
	// string means "from the start of the shard"), plus the sequence
	// number to resume from on the next call.
	Records(ctx context.Context, shardID, after string) ([]ChangeRecord, string, error)
}
