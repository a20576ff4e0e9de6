// Package export is the Export Registry: admits, tracks, and reports on
// long-running export jobs, enforcing per-user and system-wide
// concurrency caps.
package export

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/blobstore"
	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/paramz"
)

const (
	statusInProgress = "in-progress"
	statusCanceling  = "canceling"
	statusCanceled   = "canceled"
	statusCompleted  = "completed"
	statusFailed     = "failed"

	jobStatusIndexName = "jobStatus-index"
)

// Request is the caller-supplied shape of an export request.
type Request struct {
	RequesterUserID string
	ExportType      string
	Params          map[string]interface{}
}

// Status is the public, normalized shape getExportStatus returns.
type Status struct {
	JobID            string
	JobStatus        string
	RequesterUserID  string
	ExportedFileURLs []string
	ErrorArray       []string
	ErrorMessage     string
}

// presignGate bounds how many presign calls Registry.presignAll issues
// against the blob store concurrently for a single job's output list.
// Goroutines enter by calling Enter and signal they're done with Leave;
// every Enter must be balanced by a Leave, though not necessarily from
// the same goroutine.
type presignGate chan struct{}

// newPresignGate returns a presignGate admitting at most n callers at a
// time.
func newPresignGate(n int) presignGate {
	return make(presignGate, n)
}

func (g presignGate) Enter() {
	g <- struct{}{}
}

func (g presignGate) Leave() {
	<-g
}

// Registry is the Export Registry, bound to a dedicated jobs table and a
// blob store used only to resolve output keys into presigned URLs.
type Registry struct {
	Jobs          kvstore.Store
	Blob          blobstore.Store
	MaxPerUser    int
	MaxSystem     int
	OutputURLTTL  time.Duration
	Now           func() time.Time
	admissionGate presignGate
}

// New returns a Registry enforcing maxPerUser/maxSystem admission caps.
// gateSize bounds how many concurrent presign calls GetExportStatus will
// issue against the blob store for a single job's output list.
func New(jobs kvstore.Store, blob blobstore.Store, maxPerUser, maxSystem, gateSize int, outputURLTTL time.Duration) *Registry {
	return &Registry{
		Jobs:          jobs,
		Blob:          blob,
		MaxPerUser:    maxPerUser,
		MaxSystem:     maxSystem,
		OutputURLTTL:  outputURLTTL,
		Now:           time.Now,
		admissionGate: newPresignGate(gateSize),
	}
}

// InitiateExport enforces admission control: at most MaxPerUser jobs
// per requester in {in-progress, canceling} combined, and at most
// MaxSystem jobs system-wide across both statuses combined.
func (r *Registry) InitiateExport(ctx context.Context, req Request) (string, error) {
	inProgress, err := r.jobsByStatus(ctx, statusInProgress)
	if err != nil {
		return "", err
	}
	canceling, err := r.jobsByStatus(ctx, statusCanceling)
	if err != nil {
		return "", err
	}

	ownedByRequester := 0
	for _, j := range inProgress {
		if j["jobOwnerId"] == req.RequesterUserID {
			ownedByRequester++
		}
	}
	for _, j := range canceling {
		if j["jobOwnerId"] == req.RequesterUserID {
			ownedByRequester++
		}
	}
	if ownedByRequester >= r.MaxPerUser {
		return "", errors.Wrap(rstore.ErrTooManyConcurrentExports, "requester's concurrent export cap reached")
	}

	if len(inProgress)+len(canceling) >= r.MaxSystem {
		return "", errors.Wrap(rstore.ErrTooManyConcurrentExports, "system-wide concurrent export cap reached")
	}

	jobID := uuid.NewString()
	attrs := kvstore.Attributes{
		"jobOwnerId": req.RequesterUserID,
		"jobStatus":  statusInProgress,
		"exportType": req.ExportType,
		"params":     req.Params,
	}
	w := paramz.InsertExportJob(jobID, attrs)
	if err := r.Jobs.PutItem(ctx, w); err != nil {
		return "", errors.Wrap(err, "export: inserting job")
	}
	return jobID, nil
}

// CancelExport transitions a job to canceling, rejecting the request if
// the job is already in a terminal state.
func (r *Registry) CancelExport(ctx context.Context, jobID string) error {
	attrs, err := r.Jobs.GetItem(ctx, kvstore.Key{StorageID: jobID}, nil)
	if err != nil {
		return errors.Wrap(err, "export: fetching job")
	}
	if attrs == nil {
		return rstore.NewResourceNotFound("$export", jobID)
	}
	status, _ := attrs["jobStatus"].(string)
	switch status {
	case statusFailed, statusCompleted, statusCanceled:
		return errors.Errorf("export: job %s is already terminal (%s) and cannot be canceled", jobID, status)
	}

	w := paramz.TransitionExportStatus(jobID, statusCanceling, []string{statusInProgress, statusCanceling})
	if err := r.Jobs.PutItem(ctx, w); err != nil {
		return errors.Wrap(err, "export: transitioning to canceling")
	}
	return nil
}

// GetExportStatus normalizes a job's stored status, resolving stored
// output blob keys into presigned URLs once the job has completed.
func (r *Registry) GetExportStatus(ctx context.Context, jobID string) (*Status, error) {
	attrs, err := r.Jobs.GetItem(ctx, kvstore.Key{StorageID: jobID}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "export: fetching job")
	}
	if attrs == nil {
		return nil, rstore.NewResourceNotFound("$export", jobID)
	}

	status := &Status{
		JobID:           jobID,
		JobStatus:       stringField(attrs, "jobStatus"),
		RequesterUserID: stringField(attrs, "jobOwnerId"),
		ErrorMessage:    stringField(attrs, "errorMessage"),
	}
	status.ErrorArray = stringSliceField(attrs, "errorArray")

	if status.JobStatus == statusCompleted {
		urls, err := r.presignAll(ctx, stringSliceField(attrs, "outputKeys"))
		if err != nil {
			return nil, err
		}
		status.ExportedFileURLs = urls
	} else {
		status.ExportedFileURLs = []string{}
	}
	return status, nil
}

// presignAll resolves keys into presigned URLs concurrently, bounded by
// the registry's gate so a job with many output files does not open an
// unbounded number of simultaneous presign calls against the blob store.
func (r *Registry) presignAll(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			r.admissionGate.Enter()
			defer r.admissionGate.Leave()
			url, err := r.Blob.PresignGet(ctx, key, r.OutputURLTTL)
			if err != nil {
				errs[i] = errors.Wrapf(err, "export: presigning output %s", key)
				return
			}
			urls[i] = url
		}(i, key)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return urls, nil
}

func (r *Registry) jobsByStatus(ctx context.Context, status string) ([]kvstore.Attributes, error) {
	q := paramz.QueryJobsByStatus(jobStatusIndexName, status, []string{"jobOwnerId", "jobStatus"})
	rows, err := r.Jobs.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "export: querying jobs by status %s", status)
	}
	return rows, nil
}

func stringField(attrs kvstore.Attributes, name string) string {
	s, _ := attrs[name].(string)
	return s
}

func stringSliceField(attrs kvstore.Attributes, name string) []string {
	raw, ok := attrs[name].([]interface{})
	if !ok {
		if s, ok := attrs[name].([]string); ok {
			return s
		}
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
