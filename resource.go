package rstore

import "strconv"

// DocumentStatus is the per-version lifecycle field driving the version
// state machine every write path enforces.
type DocumentStatus string

const (
	StatusPending        DocumentStatus = "PENDING"
	StatusLocked         DocumentStatus = "LOCKED"
	StatusAvailable      DocumentStatus = "AVAILABLE"
	StatusPendingDelete  DocumentStatus = "PENDING_DELETE"
	StatusDeleted        DocumentStatus = "DELETED"
)

// DefaultLockDurationMS is the stale-lock reclaim threshold used when no
// override is configured.
const DefaultLockDurationMS int64 = 35000

// Resource is the opaque document payload of a logical entity. It is a
// plain JSON object; this module never interprets any field beyond the
// handful the Item Codec injects or reads (id, meta, documentStatus,
// lockEndTs, vid, _references, bulkDataLink, tenantId). Resource-schema
// validation is an external collaborator, not this module's concern.
type Resource map[string]interface{}

// Clone returns a shallow copy of r suitable for the Item Codec to mutate
// without aliasing the caller's map. Only meta is copied one level deep;
// other nested maps and slices are not deep-copied, since the codec only
// ever adds or overwrites top-level and one-level-nested (meta.*) keys.
func (r Resource) Clone() Resource {
	out := make(Resource, len(r)+4)
	for k, v := range r {
		out[k] = v
	}
	if meta, ok := r["meta"].(map[string]interface{}); ok {
		clonedMeta := make(map[string]interface{}, len(meta))
		for k, v := range meta {
			clonedMeta[k] = v
		}
		out["meta"] = clonedMeta
	}
	return out
}

// VersionID returns the resource's meta.versionId as an int64, or 0 if it
// is absent or unparsable.
func (r Resource) VersionID() int64 {
	meta, _ := r["meta"].(map[string]interface{})
	if meta == nil {
		return 0
	}
	s, _ := meta["versionId"].(string)
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// ID returns the resource's logical id field, or "" if absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Item is the stored record for a single version. Composite primary
// key is (StorageID, Vid).
type Item struct {
	StorageID      string
	Vid            int64
	ResourceType   string
	DocumentStatus DocumentStatus
	LockEndTs      int64 // epoch millis
	LastUpdatedTs  int64 // epoch millis, stamped on every status transition
	TenantID       string
	References     []string
	BulkDataLink   string
	Resource       Resource // the encoded resource, including injected fields
}

// Key identifies a single stored Item.
type Key struct {
	StorageID string
	Vid       int64
}
