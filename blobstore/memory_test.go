package blobstore

import (
	"context"
	"testing"
)

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, "a/b.json", []byte(`{"x":1}`), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := m.Get(ctx, "a/b.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"x":1}` {
		t.Errorf("Get = %q", got)
	}

	if err := m.Delete(ctx, "a/b.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "a/b.json"); !IsNotFound(err) {
		t.Errorf("Get after delete = %v, want not-found", err)
	}
}

func TestMemoryDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(ctx, "tenant1/Patient/a.json", []byte("1"), "application/json")
	m.Put(ctx, "tenant1/Patient/b.json", []byte("2"), "application/json")
	m.Put(ctx, "tenant2/Patient/c.json", []byte("3"), "application/json")

	if err := m.DeletePrefix(ctx, "tenant1/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, err := m.Get(ctx, "tenant1/Patient/a.json"); !IsNotFound(err) {
		t.Errorf("tenant1/a should be gone")
	}
	if _, err := m.Get(ctx, "tenant2/Patient/c.json"); err != nil {
		t.Errorf("tenant2/c should survive: %v", err)
	}
}
