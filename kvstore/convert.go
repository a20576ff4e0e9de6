package kvstore

import (
	"strconv"

	"github.com/ndlib/rstore"
)

// ItemToAttributes flattens an rstore.Item into the Attributes shape a
// Store writes. The resource's own fields (already carrying the internal
// fields the codec injected) are copied verbatim; the Item's own
// convenience fields (ResourceType, TenantID, References, BulkDataLink)
// are written alongside so a backend never has to re-derive them from
// the resource payload.
func ItemToAttributes(item *rstore.Item) Attributes {
	attrs := make(Attributes, len(item.Resource)+4)
	for k, v := range item.Resource {
		attrs[k] = v
	}
	attrs["resourceType"] = item.ResourceType
	attrs["vid"] = item.Vid
	attrs["documentStatus"] = string(item.DocumentStatus)
	attrs["lockEndTs"] = item.LockEndTs
	attrs["lastUpdatedTs"] = item.LastUpdatedTs
	if item.TenantID != "" {
		attrs["tenantId"] = item.TenantID
	}
	if item.BulkDataLink != "" {
		attrs["bulkDataLink"] = item.BulkDataLink
	}
	if len(item.References) > 0 {
		refs := make([]interface{}, len(item.References))
		for i, r := range item.References {
			refs[i] = r
		}
		attrs["_references"] = refs
	}
	return attrs
}

// AttributesToItem is the inverse of ItemToAttributes.
func AttributesToItem(attrs Attributes) *rstore.Item {
	item := &rstore.Item{
		Resource: rstore.Resource(attrs).Clone(),
	}
	if id, ok := attrs["id"].(string); ok {
		item.StorageID = id
	}
	item.Vid = asInt64(attrs["vid"])
	if rt, ok := attrs["resourceType"].(string); ok {
		item.ResourceType = rt
	}
	if ds, ok := attrs["documentStatus"].(string); ok {
		item.DocumentStatus = rstore.DocumentStatus(ds)
	}
	item.LockEndTs = asInt64(attrs["lockEndTs"])
	item.LastUpdatedTs = asInt64(attrs["lastUpdatedTs"])
	if t, ok := attrs["tenantId"].(string); ok {
		item.TenantID = t
	}
	if link, ok := attrs["bulkDataLink"].(string); ok {
		item.BulkDataLink = link
	}
	item.References = asStringSlice(attrs["_references"])
	return item
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func asStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
