package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/codec"
	"github.com/ndlib/rstore/kvstore/memkv"
	"github.com/ndlib/rstore/paramz"
	"github.com/ndlib/rstore/searchindex"
)

func insert(t *testing.T, kv *memkv.Store, resourceType, id string, vid int64, status rstore.DocumentStatus) {
	t.Helper()
	insertTenant(t, kv, resourceType, id, vid, status, "")
}

func insertTenant(t *testing.T, kv *memkv.Store, resourceType, id string, vid int64, status rstore.DocumentStatus, tenantID string) {
	t.Helper()
	c := codec.New()
	item := c.EncodeForInsert(rstore.Resource{"id": id}, resourceType, id, vid, status, tenantID)
	w := paramz.InsertNewVersion(item, true)
	if err := kv.PutItem(context.Background(), w); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestProcessShardUpsertsAvailableRecord(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, false, nil)

	insert(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)

	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard: %v", err)
	}
	if !index.HasDoc("patient-alias", "abc") {
		t.Errorf("expected abc to be indexed under patient-alias")
	}
}

func TestProcessShardSkipsTransientStatuses(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, false, nil)

	insert(t, kv, "Patient", "abc", 1, rstore.StatusPending)

	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard: %v", err)
	}
	if index.HasDoc("patient-alias", "abc") {
		t.Errorf("PENDING record should not be indexed")
	}
}

func TestProcessShardDeletesOnDeletedStatus(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, false, nil)

	insert(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)
	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard (insert): %v", err)
	}

	insert(t, kv, "Patient", "abc", 2, rstore.StatusDeleted)
	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard (delete): %v", err)
	}
	if index.HasDoc("patient-alias", "abc") {
		t.Errorf("DELETED record should be removed from the index")
	}
}

func TestProcessShardIsIdempotent(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, false, nil)

	insert(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)

	for i := 0; i < 3; i++ {
		if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
			t.Fatalf("ProcessShard iteration %d: %v", i, err)
		}
	}
	if !index.HasDoc("patient-alias", "abc") {
		t.Errorf("expected abc to remain indexed after repeated replay")
	}
}

func TestProcessShardNormalizesIDInMultiTenantMode(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, true, nil)

	insertTenant(t, kv, "Patient", "abc", 1, rstore.StatusAvailable, "tenant1")

	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard: %v", err)
	}
	if !index.HasDoc("patient-alias", "abc") {
		t.Fatalf("expected abc to be indexed under patient-alias with the normalized id")
	}
	doc, ok := index.Doc("patient-alias", "abc")
	if !ok {
		t.Fatalf("expected a doc body for abc")
	}
	if doc["id"] != "abc" {
		t.Errorf("doc[\"id\"] = %v, want the normalized id %q, not the tenant-suffixed storageId", doc["id"], "abc")
	}
}

func TestEnsureIndexUsesADistinctPhysicalName(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, false, nil)
	p.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	insert(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)

	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard: %v", err)
	}

	exists, err := index.IndexExists(context.Background(), "patient-alias")
	if err != nil {
		t.Fatalf("IndexExists: %v", err)
	}
	if exists {
		t.Errorf("the alias name must never also be used as the physical index name")
	}

	physicalName := "patient-" + p.Now().UTC().Format("20060102150405")
	exists, err = index.IndexExists(context.Background(), physicalName)
	if err != nil {
		t.Fatalf("IndexExists: %v", err)
	}
	if !exists {
		t.Errorf("expected a physical index named %s distinct from the alias", physicalName)
	}
}

func TestProcessShardSkipsBinaryResourceTypes(t *testing.T) {
	kv := memkv.New()
	index := searchindex.NewMemory()
	p := New(kv, index, false, []string{"Binary"})

	insert(t, kv, "Binary", "bin1", 1, rstore.StatusAvailable)

	if _, err := p.ProcessShard(context.Background(), "0", ""); err != nil {
		t.Fatalf("ProcessShard: %v", err)
	}
	if index.HasDoc("binary-alias", "bin1") {
		t.Errorf("binary resource types should never be indexed")
	}
}
