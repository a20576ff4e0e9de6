package dataservice

import (
	"context"
	"errors"
	"testing"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/bundle"
	"github.com/ndlib/rstore/codec"
	"github.com/ndlib/rstore/kvstore/memkv"
	"github.com/ndlib/rstore/versionstore"
)

func newTestService(kv *memkv.Store, updateCreate bool) *Service {
	return &Service{
		KV:                    kv,
		VS:                    versionstore.New(kv),
		Bundle:                bundle.New(kv),
		Codec:                 codec.New(),
		UpdateCreateSupported: updateCreate,
	}
}

func TestCreateResourceThenReadMostRecent(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, false)

	created, err := s.CreateResource(context.Background(), rstore.Resource{"name": "Jameson"}, "Patient", "")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if created.ID() == "" {
		t.Fatalf("created resource has no id: %+v", created)
	}

	got, err := s.ReadMostRecent(context.Background(), "Patient", created.ID(), "")
	if err != nil {
		t.Fatalf("ReadMostRecent: %v", err)
	}
	if got["name"] != "Jameson" {
		t.Errorf("name = %v, want Jameson", got["name"])
	}
}

func TestCreateResourceRejectsDuplicateID(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, false)

	if _, err := s.CreateResource(context.Background(), rstore.Resource{"id": "fixed"}, "Patient", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := s.CreateResource(context.Background(), rstore.Resource{"id": "fixed"}, "Patient", "")
	var invalid *rstore.InvalidResourceError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidResourceError", err)
	}
}

func TestUpdateResourceBumpsVid(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, false)

	created, err := s.CreateResource(context.Background(), rstore.Resource{"id": "abc", "name": "old"}, "Patient", "")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	updated, err := s.UpdateResource(context.Background(), rstore.Resource{"name": "new"}, "Patient", created.ID(), "")
	if err != nil {
		t.Fatalf("UpdateResource: %v", err)
	}
	if updated.VersionID() != 2 {
		t.Errorf("VersionID = %d, want 2", updated.VersionID())
	}
}

func TestUpdateResourceMissingWithoutUpdateCreateFails(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, false)

	_, err := s.UpdateResource(context.Background(), rstore.Resource{"name": "x"}, "Patient", "missing", "")
	if !errors.Is(err, rstore.ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestUpdateResourceMissingWithUpdateCreateFallsThrough(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, true)

	id := "11111111-2222-3333-4444-555555555555"
	created, err := s.UpdateResource(context.Background(), rstore.Resource{"name": "new"}, "Patient", id, "")
	if err != nil {
		t.Fatalf("UpdateResource: %v", err)
	}
	if created.ID() != id {
		t.Errorf("ID = %q, want %q", created.ID(), id)
	}
}

func TestUpdateResourceMissingWithUpdateCreateRejectsNonUUID(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, true)

	_, err := s.UpdateResource(context.Background(), rstore.Resource{"name": "new"}, "Patient", "not-a-uuid", "")
	var invalid *rstore.InvalidResourceError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidResourceError", err)
	}
}

func TestDeleteResourceThenReadFails(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, false)

	created, err := s.CreateResource(context.Background(), rstore.Resource{"id": "abc"}, "Patient", "")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	msg, err := s.DeleteResource(context.Background(), "Patient", created.ID(), "")
	if err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if msg == "" {
		t.Errorf("expected a confirmation message")
	}

	if _, err := s.ReadMostRecent(context.Background(), "Patient", created.ID(), ""); !errors.Is(err, rstore.ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestDeleteResourceMissingFails(t *testing.T) {
	kv := memkv.New()
	s := newTestService(kv, false)

	_, err := s.DeleteResource(context.Background(), "Patient", "missing", "")
	if !errors.Is(err, rstore.ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}
