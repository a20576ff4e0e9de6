package codec

import (
	"testing"
	"time"

	"github.com/ndlib/rstore"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestEncodeForInsertStampsMeta(t *testing.T) {
	c := NewWithClock(fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	resource := rstore.Resource{
		"resourceType": "Patient",
		"name":         []interface{}{map[string]interface{}{"family": "Jameson"}},
		"meta": map[string]interface{}{
			"versionId":   "should-be-overwritten",
			"lastUpdated": "should-be-overwritten",
		},
	}

	item := c.EncodeForInsert(resource, "Patient", "abc-123", 1, rstore.StatusAvailable, "")

	if item.Vid != 1 {
		t.Errorf("Vid = %d, want 1", item.Vid)
	}
	if item.StorageID != "abc-123" {
		t.Errorf("StorageID = %q, want abc-123", item.StorageID)
	}
	meta := item.Resource["meta"].(map[string]interface{})
	if meta["versionId"] != "1" {
		t.Errorf("meta.versionId = %v, want 1", meta["versionId"])
	}
	if meta["lastUpdated"] != "2026-01-02T03:04:05Z" {
		t.Errorf("meta.lastUpdated = %v", meta["lastUpdated"])
	}
	// original resource must not be mutated (P2)
	origMeta := resource["meta"].(map[string]interface{})
	if origMeta["versionId"] != "should-be-overwritten" {
		t.Errorf("input resource was mutated")
	}
}

func TestBuildStorageIDConcatenatesTenant(t *testing.T) {
	if got := BuildStorageID("abc", ""); got != "abc" {
		t.Errorf("single tenant: got %q, want abc", got)
	}
	if got := BuildStorageID("abc", "tenant1"); got != "abctenant1" {
		t.Errorf("multi tenant: got %q, want abctenant1", got)
	}
}

func TestDecodeForReadStripsInternalFields(t *testing.T) {
	c := New()
	item := c.EncodeForInsert(rstore.Resource{"resourceType": "Patient"}, "Patient", "id1", 2, rstore.StatusAvailable, "")

	decoded := DecodeForRead(item, nil)
	for _, hidden := range []string{"documentStatus", "lockEndTs", "vid", "_references"} {
		if _, ok := decoded[hidden]; ok {
			t.Errorf("decoded resource still has hidden field %q", hidden)
		}
	}
	if decoded["id"] != "id1" {
		t.Errorf("id = %v, want id1", decoded["id"])
	}
}

func TestDecodeForReadSplitsTenant(t *testing.T) {
	c := New()
	item := c.EncodeForInsert(rstore.Resource{"resourceType": "Patient"}, "Patient", "id1", 1, rstore.StatusAvailable, "tenantA")

	decoded := DecodeForRead(item, nil)
	if decoded["id"] != "id1" {
		t.Errorf("id = %v, want id1 (tenant suffix stripped)", decoded["id"])
	}
	if _, ok := decoded["tenantId"]; ok {
		t.Errorf("tenantId leaked into decoded resource without projection")
	}

	decodedWithTenant := DecodeForRead(item, Projection{"tenantId"})
	if decodedWithTenant["tenantId"] != "tenantA" {
		t.Errorf("tenantId = %v, want tenantA when explicitly projected", decodedWithTenant["tenantId"])
	}
}

func TestExtractReferences(t *testing.T) {
	resource := rstore.Resource{
		"subject": map[string]interface{}{"reference": "Patient/123"},
		"contained": []interface{}{
			map[string]interface{}{
				"performer": map[string]interface{}{"reference": "Practitioner/456"},
			},
		},
		"note": "not a reference",
	}

	got := ExtractReferences(resource)
	want := []string{"Patient/123", "Practitioner/456"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
