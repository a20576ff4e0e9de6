package memkv

import (
	"context"
	"testing"

	"github.com/ndlib/rstore/kvstore"
)

func TestPutItemConditionalInsertRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := kvstore.Key{StorageID: "abc", Vid: 1}

	w := kvstore.WriteRequest{
		Op:                  kvstore.OpPut,
		Key:                 key,
		Item:                kvstore.Attributes{"id": "abc", "vid": int64(1)},
		ConditionExpression: "attribute_not_exists(vid)",
	}
	if err := s.PutItem(ctx, w); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.PutItem(ctx, w); err != kvstore.ErrConditionFailed {
		t.Fatalf("second insert = %v, want ErrConditionFailed", err)
	}
}

func TestQueryDescendingByVid(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, vid := range []int64{1, 2, 3} {
		key := kvstore.Key{StorageID: "abc", Vid: vid}
		s.PutItem(ctx, kvstore.WriteRequest{Op: kvstore.OpPut, Key: key, Item: kvstore.Attributes{"vid": vid}})
	}

	got, err := s.Query(ctx, kvstore.QueryInput{
		ExpressionAttributeValues: map[string]interface{}{":sid": "abc"},
		ScanIndexForward:          false,
		Limit:                     2,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0]["vid"] != int64(3) || got[1]["vid"] != int64(2) {
		t.Errorf("got = %v, want descending vid order", got)
	}
}

func TestTransactWriteRollsBackOnAnyFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	keyA := kvstore.Key{StorageID: "a", Vid: 1}
	keyB := kvstore.Key{StorageID: "b", Vid: 1}
	s.PutItem(ctx, kvstore.WriteRequest{Op: kvstore.OpPut, Key: keyB, Item: kvstore.Attributes{"vid": int64(1)}})

	err := s.TransactWrite(ctx, []kvstore.WriteRequest{
		{Op: kvstore.OpPut, Key: keyA, Item: kvstore.Attributes{"vid": int64(1)}},
		{Op: kvstore.OpPut, Key: keyB, Item: kvstore.Attributes{"vid": int64(1)}, ConditionExpression: "attribute_not_exists(vid)"},
	})
	if err != kvstore.ErrConditionFailed {
		t.Fatalf("TransactWrite = %v, want ErrConditionFailed", err)
	}

	got, _ := s.GetItem(ctx, keyA, nil)
	if got != nil {
		t.Errorf("keyA = %v, want nil (transaction should not have partially applied)", got)
	}
}

func TestChangeFeedRecordsInsertsAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := kvstore.Key{StorageID: "abc", Vid: 1}
	s.PutItem(ctx, kvstore.WriteRequest{Op: kvstore.OpPut, Key: key, Item: kvstore.Attributes{"vid": int64(1)}})
	s.DeleteItem(ctx, key)

	shards, err := s.Shards(ctx)
	if err != nil || len(shards) != 1 {
		t.Fatalf("Shards() = %v, %v", shards, err)
	}

	recs, seq, err := s.Records(ctx, shards[0], "")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].EventType != kvstore.ChangeInsert || recs[1].EventType != kvstore.ChangeRemove {
		t.Errorf("event types = %v, %v", recs[0].EventType, recs[1].EventType)
	}

	more, _, err := s.Records(ctx, shards[0], seq)
	if err != nil {
		t.Fatalf("Records(after last): %v", err)
	}
	if len(more) != 0 {
		t.Errorf("len(more) = %d, want 0", len(more))
	}
}
