// Package codec translates between logical resources and stored items.
// It is the single place that knows how the internal fields
// (documentStatus, lockEndTs, vid, _references, the composite storage id)
// are injected into and stripped from the caller-visible resource payload.
package codec

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ndlib/rstore"
)

// Clock returns the current time; it is a seam for deterministic tests
// so callers can inject a fixed time source.
type Clock func() time.Time

// Codec encodes resources into storable Items and decodes them back.
type Codec struct {
	now Clock
}

// New returns a Codec that stamps wall-clock time.
func New() *Codec {
	return &Codec{now: time.Now}
}

// NewWithClock returns a Codec that stamps time from the given clock,
// for deterministic tests.
func NewWithClock(now Clock) *Codec {
	return &Codec{now: now}
}

// BuildStorageID derives the physical partition-key value from a logical
// id and an optional tenantId: storageId = id in single-tenant mode,
// storageId = id || tenantId (plain string concatenation) in
// multi-tenant mode.
func BuildStorageID(id, tenantID string) string {
	if tenantID == "" {
		return id
	}
	return id + tenantID
}

// EncodeForInsert clones resource, injects the internal fields, and
// returns the Item ready to be written. The reference set is computed
// before any internal fields are injected, so it remains a pure function
// of the caller-supplied payload.
func (c *Codec) EncodeForInsert(resource rstore.Resource, resourceType, id string, vid int64, status rstore.DocumentStatus, tenantID string) *rstore.Item {
	refs := ExtractReferences(resource)

	out := resource.Clone()
	storageID := BuildStorageID(id, tenantID)
	out["id"] = storageID

	meta, _ := out["meta"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{})
	} else {
		cloned := make(map[string]interface{}, len(meta))
		for k, v := range meta {
			cloned[k] = v
		}
		meta = cloned
	}
	meta["versionId"] = strconv.FormatInt(vid, 10)
	now := c.now().UTC()
	meta["lastUpdated"] = now.Format(time.RFC3339Nano)
	out["meta"] = meta

	lockEndTs := now.UnixMilli()
	out["documentStatus"] = string(status)
	out["lockEndTs"] = lockEndTs
	out["vid"] = vid
	out["_references"] = refs
	if tenantID != "" {
		out["tenantId"] = tenantID
	}

	return &rstore.Item{
		StorageID:      storageID,
		Vid:            vid,
		ResourceType:   resourceType,
		DocumentStatus: status,
		LockEndTs:      lockEndTs,
		LastUpdatedTs:  lockEndTs,
		TenantID:       tenantID,
		References:     refs,
		Resource:       out,
	}
}

// Projection names the resource fields decodeForRead should keep, in
// addition to id and meta which are always kept. A nil projection keeps
// everything except the internal fields.
type Projection []string

// DecodeForRead strips the internal fields from item and returns the
// caller-visible resource, splitting the composite storage id back into
// the logical id. tenantId is preserved in the decoded resource only
// when proj explicitly requests it.
func DecodeForRead(item *rstore.Item, proj Projection) rstore.Resource {
	out := item.Resource.Clone()

	delete(out, "documentStatus")
	delete(out, "lockEndTs")
	delete(out, "lastUpdatedTs")
	delete(out, "vid")
	delete(out, "_references")

	logicalID := strings.TrimSuffix(item.StorageID, item.TenantID)
	out["id"] = logicalID

	if item.TenantID != "" && !proj.wants("tenantId") {
		delete(out, "tenantId")
	}

	if proj != nil {
		out = proj.apply(out)
	}
	return out
}

func (p Projection) wants(field string) bool {
	for _, f := range p {
		if f == field {
			return true
		}
	}
	return false
}

// apply keeps only the projected top-level fields, plus id and meta which
// are always present in a decoded resource.
func (p Projection) apply(resource rstore.Resource) rstore.Resource {
	if len(p) == 0 {
		return resource
	}
	kept := make(rstore.Resource, len(p)+2)
	kept["id"] = resource["id"]
	if meta, ok := resource["meta"]; ok {
		kept["meta"] = meta
	}
	for _, f := range p {
		if v, ok := resource[f]; ok {
			kept[f] = v
		}
	}
	return kept
}

// ExtractReferences flattens resource into dotted paths and returns the
// sorted, de-duplicated set of every string value whose terminal path
// segment is "reference".
func ExtractReferences(resource rstore.Resource) []string {
	seen := make(map[string]struct{})
	walk("", resource, seen)

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func walk(path string, v interface{}, seen map[string]struct{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			walk(childPath, child, seen)
		}
	case rstore.Resource:
		walk(path, map[string]interface{}(val), seen)
	case []interface{}:
		for _, child := range val {
			walk(path, child, seen)
		}
	default:
		if lastSegment(path) == "reference" {
			if s, ok := v.(string); ok && s != "" {
				seen[s] = struct{}{}
			}
		}
	}
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
