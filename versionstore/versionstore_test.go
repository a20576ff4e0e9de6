package versionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/codec"
	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/kvstore/memkv"
	"github.com/ndlib/rstore/paramz"
)

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0) }

func insertVersion(t *testing.T, kv *memkv.Store, resourceType, id string, vid int64, status rstore.DocumentStatus) {
	t.Helper()
	c := codec.NewWithClock(fixedClock)
	item := c.EncodeForInsert(rstore.Resource{}, resourceType, id, vid, status, "")
	w := paramz.InsertNewVersion(item, true)
	if err := kv.PutItem(context.Background(), w); err != nil {
		t.Fatalf("insert vid=%d: %v", vid, err)
	}
}

func TestReadMostRecentReturnsAvailableHead(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)
	s := New(kv)

	item, err := s.ReadMostRecent(context.Background(), "Patient", "abc")
	if err != nil {
		t.Fatalf("ReadMostRecent: %v", err)
	}
	if item.Vid != 1 {
		t.Errorf("Vid = %d, want 1", item.Vid)
	}
}

func TestReadMostRecentFallsBackPastPendingHead(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)
	insertVersion(t, kv, "Patient", "abc", 2, rstore.StatusPending)
	s := New(kv)

	item, err := s.ReadMostRecent(context.Background(), "Patient", "abc")
	if err != nil {
		t.Fatalf("ReadMostRecent: %v", err)
	}
	if item.Vid != 1 {
		t.Errorf("Vid = %d, want 1 (fell back past pending head)", item.Vid)
	}
}

func TestReadMostRecentPendingOnlyIsNotFound(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusPending)
	s := New(kv)

	_, err := s.ReadMostRecent(context.Background(), "Patient", "abc")
	if !errors.Is(err, rstore.ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestReadMostRecentDeletedIsNotFound(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusDeleted)
	s := New(kv)

	_, err := s.ReadMostRecent(context.Background(), "Patient", "abc")
	if !errors.Is(err, rstore.ErrResourceNotFound) {
		t.Fatalf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestReadVersionRejectsWrongResourceType(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)
	s := New(kv)

	_, err := s.ReadVersion(context.Background(), "Observation", "abc", 1)
	if !errors.Is(err, rstore.ErrVersionNotFound) {
		t.Fatalf("err = %v, want ErrVersionNotFound", err)
	}
}

func TestReadVersionRejectsNonAvailable(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusLocked)
	s := New(kv)

	_, err := s.ReadVersion(context.Background(), "Patient", "abc", 1)
	if !errors.Is(err, rstore.ErrVersionNotFound) {
		t.Fatalf("err = %v, want ErrVersionNotFound", err)
	}
}

func TestTransitionStatusFailsWhenGuardDoesNotMatch(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusLocked)
	s := New(kv)
	s.Now = fixedClock

	key := kvstore.Key{StorageID: "abc", Vid: 1}
	err := s.TransitionStatus(context.Background(), "Patient", key, rstore.StatusAvailable, rstore.StatusDeleted)
	if !errors.Is(err, kvstore.ErrConditionFailed) {
		t.Fatalf("err = %v, want ErrConditionFailed", err)
	}
}

func TestTransitionStatusSucceedsWhenGuardMatches(t *testing.T) {
	kv := memkv.New()
	insertVersion(t, kv, "Patient", "abc", 1, rstore.StatusAvailable)
	s := New(kv)
	s.Now = fixedClock

	key := kvstore.Key{StorageID: "abc", Vid: 1}
	err := s.TransitionStatus(context.Background(), "Patient", key, rstore.StatusAvailable, rstore.StatusDeleted)
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	item, err := s.ReadMostRecent(context.Background(), "Patient", "abc")
	if !errors.Is(err, rstore.ErrResourceNotFound) {
		t.Fatalf("expected deleted item to read as not found, got item=%v err=%v", item, err)
	}
}
