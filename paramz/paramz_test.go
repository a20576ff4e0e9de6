package paramz

import (
	"strings"
	"testing"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/kvstore"
)

func TestInsertNewVersionIsConditional(t *testing.T) {
	item := &rstore.Item{StorageID: "abc", Vid: 1, Resource: rstore.Resource{"id": "abc"}}
	w := InsertNewVersion(item, false)
	if w.Op != kvstore.OpPut {
		t.Fatalf("Op = %v, want OpPut", w.Op)
	}
	if !strings.Contains(w.ConditionExpression, "attribute_not_exists") {
		t.Errorf("ConditionExpression = %q, want attribute_not_exists guard", w.ConditionExpression)
	}
}

func TestInsertNewVersionOverwriteHasNoCondition(t *testing.T) {
	item := &rstore.Item{StorageID: "abc", Vid: 1, Resource: rstore.Resource{}}
	w := InsertNewVersion(item, true)
	if w.ConditionExpression != "" {
		t.Errorf("ConditionExpression = %q, want empty when overwrite allowed", w.ConditionExpression)
	}
}

func TestStatusTransitionGuardsOnOldStatusOrExpiredLock(t *testing.T) {
	w := StatusTransition("Patient", kvstore.Key{StorageID: "abc", Vid: 2}, rstore.StatusPending, rstore.StatusAvailable, 1_700_000_000_000, 35000)

	if w.Op != kvstore.OpUpdate {
		t.Fatalf("Op = %v, want OpUpdate", w.Op)
	}
	if w.ExpressionAttributeValues[":oldStatus"] != string(rstore.StatusPending) {
		t.Errorf("oldStatus placeholder wrong: %v", w.ExpressionAttributeValues[":oldStatus"])
	}
	wantCutoff := int64(1_700_000_000_000 - 35000)
	if w.ExpressionAttributeValues[":lockCutoff"] != wantCutoff {
		t.Errorf("lockCutoff = %v, want %d", w.ExpressionAttributeValues[":lockCutoff"], wantCutoff)
	}
	if !strings.Contains(w.ConditionExpression, "OR") {
		t.Errorf("expected the lock-expired escape clause in %q", w.ConditionExpression)
	}
}

func TestQueryMostRecentVersionsDescendsOnVid(t *testing.T) {
	q := QueryMostRecentVersions("abc", 2, nil)
	if q.ScanIndexForward {
		t.Errorf("ScanIndexForward = true, want false (descending)")
	}
	if q.Limit != 2 {
		t.Errorf("Limit = %d, want 2", q.Limit)
	}
}

func TestTransitionExportStatusUnconditionalWhenNoFromStatuses(t *testing.T) {
	w := TransitionExportStatus("job1", "canceling", nil)
	if w.ConditionExpression != "" {
		t.Errorf("ConditionExpression = %q, want empty", w.ConditionExpression)
	}
}

func TestTransitionExportStatusGuardsOnFromStatuses(t *testing.T) {
	w := TransitionExportStatus("job1", "canceled", []string{"in-progress", "canceling"})
	if !strings.Contains(w.ConditionExpression, "IN (") {
		t.Errorf("ConditionExpression = %q, want an IN clause", w.ConditionExpression)
	}
	if len(w.ExpressionAttributeValues) != 2 {
		t.Errorf("want 2 placeholder values, got %d", len(w.ExpressionAttributeValues))
	}
}
