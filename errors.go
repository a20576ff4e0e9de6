package rstore

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the core. Callers compare against these with
// errors.Is; every package in this module wraps the underlying storage
// error with github.com/pkg/errors before returning one of these so the
// original cause is still recoverable with errors.Cause.
var (
	// ErrResourceNotFound is returned when no version of a resource is in
	// {AVAILABLE, LOCKED, PENDING_DELETE}, when the target of an update or
	// delete is absent, or when a hybrid resource's blob is missing or
	// fails its link self-check.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrVersionNotFound is returned when a specific (id, vid) is absent,
	// its stored resourceType does not match the request, or its
	// documentStatus is not AVAILABLE.
	ErrVersionNotFound = errors.New("version not found")

	// ErrInvalidResource is returned when a create (or update-as-create)
	// supplies a malformed id, or when an insert collides with an
	// existing id.
	ErrInvalidResource = errors.New("invalid resource")

	// ErrTooManyConcurrentExports is returned when an export admission
	// check hits the per-user or system-wide concurrency cap.
	ErrTooManyConcurrentExports = errors.New("too many concurrent export requests")

	// ErrTenancyMismatch is returned when a request's tenantId presence
	// disagrees with the configured multi-tenancy mode.
	ErrTenancyMismatch = errors.New("tenancy mismatch")

	// ErrBundleFailed is returned when any participant of a bundle fails.
	// Use AsBundleFailure to recover the per-entry outcomes.
	ErrBundleFailed = errors.New("bundle failed")
)

// NotFoundError wraps ErrResourceNotFound with the resourceType and id that
// were not found. The Export Registry uses the "$export"-style pseudo
// resourceType for job lookups ("ResourceNotFound($export, jobId)").
type NotFoundError struct {
	ResourceType string
	ID           string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %s is not known", e.ResourceType, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrResourceNotFound }

// NewResourceNotFound builds a NotFoundError for the given resourceType/id.
func NewResourceNotFound(resourceType, id string) error {
	return &NotFoundError{ResourceType: resourceType, ID: id}
}

// VersionNotFoundError wraps ErrVersionNotFound with the coordinates of the
// missing version.
type VersionNotFoundError struct {
	ResourceType string
	ID           string
	VersionID    string
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("%s/%s version %s is not known", e.ResourceType, e.ID, e.VersionID)
}

func (e *VersionNotFoundError) Unwrap() error { return ErrVersionNotFound }

// InvalidResourceError wraps ErrInvalidResource with an explanatory reason,
// e.g. "id matches an existing resource".
type InvalidResourceError struct {
	Reason string
}

func (e *InvalidResourceError) Error() string {
	return fmt.Sprintf("Resource creation failed, %s", e.Reason)
}

func (e *InvalidResourceError) Unwrap() error { return ErrInvalidResource }

// BundleEntryOutcome records what happened to a single BatchRequest inside
// a failed bundle.
type BundleEntryOutcome struct {
	Index int
	Err   error
}

// BundleFailureError carries the per-entry outcomes of a failed bundle.
type BundleFailureError struct {
	Entries []BundleEntryOutcome
}

func (e *BundleFailureError) Error() string {
	return fmt.Sprintf("bundle failed: %d entries did not commit", len(e.Entries))
}

func (e *BundleFailureError) Unwrap() error { return ErrBundleFailed }

// AsBundleFailure recovers the per-entry outcomes from a bundle error, if
// it is one.
func AsBundleFailure(err error) (*BundleFailureError, bool) {
	var bf *BundleFailureError
	ok := errors.As(err, &bf)
	return bf, ok
}
