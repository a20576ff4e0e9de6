// Package paramz is the Param Builder: a pure function module with no
// I/O that produces the conditional-write, query, and transaction
// descriptors every other component submits to a kvstore.Store. Every
// string token that appears in a condition expression is defined once,
// here.
package paramz

import (
	"fmt"
	"strconv"

	"github.com/ndlib/rstore"
	"github.com/ndlib/rstore/kvstore"
)

// Field and status tokens used across every condition expression this
// package builds. Centralizing them here means a rename never has to
// touch more than one file.
const (
	FieldID             = "id"
	FieldVid            = "vid"
	FieldResourceType   = "resourceType"
	FieldDocumentStatus = "documentStatus"
	FieldLockEndTs      = "lockEndTs"
	FieldLastUpdatedTs  = "lastUpdatedTs"
	FieldJobStatus      = "jobStatus"
	FieldJobID          = "jobId"

	AttrNameStatus = "#status"
	AttrNameType   = "#rtype"
)

// InsertNewVersion builds the descriptor for inserting a brand-new
// version. Unless allowOverwrite is set, the write is conditioned on the
// specific (storageId, vid) not already existing, via attribute_not_exists
// on the range key attribute.
func InsertNewVersion(item *rstore.Item, allowOverwrite bool) kvstore.WriteRequest {
	w := kvstore.WriteRequest{
		Op:  kvstore.OpPut,
		Key: kvstore.Key{StorageID: item.StorageID, Vid: item.Vid},
		Item: kvstore.ItemToAttributes(item),
	}
	if !allowOverwrite {
		w.ConditionExpression = fmt.Sprintf("attribute_not_exists(%s)", FieldVid)
	}
	return w
}

// StatusTransition builds the guarded status-transition descriptor:
// "(resourceType matches) AND (current status = oldStatus OR (lock
// expired AND current status IN {LOCKED, PENDING, PENDING_DELETE}))".
// lockDurationMS and nowMillis parameterize the lock-expired escape
// that lets a stale transaction be forcibly reclaimed.
func StatusTransition(resourceType string, key kvstore.Key, oldStatus, newStatus rstore.DocumentStatus, nowMillis, lockDurationMS int64) kvstore.WriteRequest {
	cond := fmt.Sprintf(
		"(%s = :rtype) AND (%s = :oldStatus OR (%s < :lockCutoff AND %s IN (:locked, :pending, :pendingDelete)))",
		FieldResourceType, AttrNameStatus, FieldLockEndTs, AttrNameStatus,
	)
	lockCutoff := nowMillis - lockDurationMS

	return kvstore.WriteRequest{
		Op:  kvstore.OpUpdate,
		Key: key,
		Updates: map[string]interface{}{
			FieldDocumentStatus: string(newStatus),
			FieldLockEndTs:      nowMillis,
			FieldLastUpdatedTs:  nowMillis,
		},
		ConditionExpression: cond,
		ExpressionAttributeNames: map[string]string{
			AttrNameStatus: FieldDocumentStatus,
		},
		ExpressionAttributeValues: map[string]interface{}{
			":rtype":          resourceType,
			":oldStatus":      string(oldStatus),
			":lockCutoff":     lockCutoff,
			":locked":         string(rstore.StatusLocked),
			":pending":        string(rstore.StatusPending),
			":pendingDelete":  string(rstore.StatusPendingDelete),
		},
	}
}

// DeleteItemUnconditional builds the descriptor rollback uses to remove a
// newly-inserted (storageId, vid) unconditionally.
func DeleteItemUnconditional(key kvstore.Key) kvstore.WriteRequest {
	return kvstore.WriteRequest{
		Op:  kvstore.OpDelete,
		Key: key,
	}
}

// QueryMostRecentVersions builds the descriptor for fetching up to n most
// recent versions of storageId, descending on vid. It does not filter on
// resourceType.
func QueryMostRecentVersions(storageID string, n int32, projection []string) kvstore.QueryInput {
	return kvstore.QueryInput{
		StorageID:              storageID,
		KeyConditionExpression: fmt.Sprintf("%s = :sid", FieldID),
		ExpressionAttributeValues: map[string]interface{}{
			":sid": storageID,
		},
		ScanIndexForward: false,
		Limit:            n,
		Projection:       projection,
	}
}

// PointGet builds the projection list for a specific (storageId, vid)
// lookup; callers pass this straight to Store.GetItem.
func PointGet(key kvstore.Key, projection []string) (kvstore.Key, []string) {
	return key, projection
}

// InsertExportJob builds the descriptor for creating a new export job
// row, conditioned on attribute_not_exists(jobId) so that a colliding
// jobId never overwrites an existing row.
func InsertExportJob(jobID string, attrs kvstore.Attributes) kvstore.WriteRequest {
	item := make(kvstore.Attributes, len(attrs)+1)
	for k, v := range attrs {
		item[k] = v
	}
	item[FieldJobID] = jobID
	return kvstore.WriteRequest{
		Op:                  kvstore.OpPut,
		Key:                 kvstore.Key{StorageID: jobID},
		Item:                item,
		ConditionExpression: fmt.Sprintf("attribute_not_exists(%s)", FieldJobID),
	}
}

// TransitionExportStatus builds the descriptor to move a job to a new
// status, guarded on its current status matching one of fromStatuses (an
// empty fromStatuses means unconditional).
func TransitionExportStatus(jobID string, newStatus string, fromStatuses []string) kvstore.WriteRequest {
	w := kvstore.WriteRequest{
		Op:  kvstore.OpUpdate,
		Key: kvstore.Key{StorageID: jobID},
		Updates: map[string]interface{}{
			FieldJobStatus: newStatus,
		},
	}
	if len(fromStatuses) > 0 {
		placeholders := make([]string, len(fromStatuses))
		values := make(map[string]interface{}, len(fromStatuses)+1)
		for i, s := range fromStatuses {
			ph := ":from" + strconv.Itoa(i)
			placeholders[i] = ph
			values[ph] = s
		}
		cond := AttrNameStatus + " IN ("
		for i, ph := range placeholders {
			if i > 0 {
				cond += ", "
			}
			cond += ph
		}
		cond += ")"
		w.ConditionExpression = cond
		w.ExpressionAttributeNames = map[string]string{AttrNameStatus: FieldJobStatus}
		w.ExpressionAttributeValues = values
	}
	return w
}

// QueryJobsByStatus builds the descriptor for the export table's
// secondary index query on jobStatus.
func QueryJobsByStatus(indexName, status string, projection []string) kvstore.QueryInput {
	return kvstore.QueryInput{
		IndexName:              indexName,
		KeyConditionExpression: AttrNameStatus + " = :status",
		ExpressionAttributeNames: map[string]string{
			AttrNameStatus: FieldJobStatus,
		},
		ExpressionAttributeValues: map[string]interface{}{
			":status": status,
		},
		Projection: projection,
	}
}
