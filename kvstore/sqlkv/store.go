package sqlkv

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ndlib/rstore/kvstore"
	"github.com/ndlib/rstore/kvstore/condeval"
)

type dialect int

const (
	dialectMySQL dialect = iota
	dialectQL
)

// Store is a kvstore.Store backed by a real SQL engine (MySQL for
// staging, embedded QL for tests), reachable through OpenMySQL or
// OpenQL. Every conditional write runs inside a transaction: the
// current row is read, the condition is scored in Go with condeval, and
// the mutation is applied or rolled back, since neither backing SQL
// dialect speaks DynamoDB's expression language natively.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// eq returns the dialect's equality operator; QL uses "==" where MySQL
// uses "=".
func (s *Store) eq() string {
	if s.dialect == dialectQL {
		return "=="
	}
	return "="
}

// ph returns the dialect's positional placeholder for the nth (1-based)
// parameter of a statement.
func (s *Store) ph(n int) string {
	if s.dialect == dialectQL {
		return "?" + itoa(n)
	}
	return "?"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Store) selectItem(q queryer, storageID string, vid int64) (kvstore.Attributes, bool, error) {
	stmt := "SELECT attrs FROM items WHERE storage_id " + s.eq() + " " + s.ph(1) + " AND vid " + s.eq() + " " + s.ph(2)
	var raw string
	err := q.QueryRow(stmt, storageID, vid).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var attrs kvstore.Attributes
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil, false, err
	}
	return attrs, true, nil
}

type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PutItem implements kvstore.Store.
func (s *Store) PutItem(ctx context.Context, w kvstore.WriteRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.applyTx(tx, w); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) applyTx(tx *sql.Tx, w kvstore.WriteRequest) error {
	existing, present, err := s.selectItem(tx, w.Key.StorageID, w.Key.Vid)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = kvstore.Attributes{}
	}
	ok, err := condeval.Eval(w.ConditionExpression, existing, w.ExpressionAttributeNames, w.ExpressionAttributeValues)
	if err != nil {
		return err
	}
	if !ok {
		return kvstore.ErrConditionFailed
	}

	switch w.Op {
	case kvstore.OpPut:
		return s.upsert(tx, w.Key, w.Item)
	case kvstore.OpUpdate:
		merged := make(kvstore.Attributes, len(existing)+len(w.Updates))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range w.Updates {
			merged[k] = v
		}
		return s.upsert(tx, w.Key, merged)
	case kvstore.OpDelete:
		return s.delete(tx, w.Key)
	case kvstore.OpConditionCheck:
		if !present {
			return kvstore.ErrConditionFailed
		}
		return nil
	}
	return nil
}

func (s *Store) upsert(tx *sql.Tx, key kvstore.Key, attrs kvstore.Attributes) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	if s.dialect == dialectQL {
		if _, _, err := s.selectItem(tx, key.StorageID, key.Vid); err == nil {
			if _, err := tx.Exec("DELETE FROM items WHERE storage_id == ?1 AND vid == ?2", key.StorageID, key.Vid); err != nil {
				return err
			}
		}
		_, err = tx.Exec("INSERT INTO items (storage_id, vid, attrs) VALUES (?1, ?2, ?3)", key.StorageID, key.Vid, string(raw))
		return err
	}
	_, err = tx.Exec(`INSERT INTO items (storage_id, vid, attrs) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE attrs = ?`, key.StorageID, key.Vid, string(raw), string(raw))
	return err
}

func (s *Store) delete(tx *sql.Tx, key kvstore.Key) error {
	if s.dialect == dialectQL {
		_, err := tx.Exec("DELETE FROM items WHERE storage_id == ?1 AND vid == ?2", key.StorageID, key.Vid)
		return err
	}
	_, err := tx.Exec("DELETE FROM items WHERE storage_id = ? AND vid = ?", key.StorageID, key.Vid)
	return err
}

// GetItem implements kvstore.Store.
func (s *Store) GetItem(ctx context.Context, key kvstore.Key, projection []string) (kvstore.Attributes, error) {
	attrs, ok, err := s.selectItem(s.db, key.StorageID, key.Vid)
	if err != nil || !ok {
		return nil, err
	}
	return applyProjection(attrs, projection), nil
}

func applyProjection(attrs kvstore.Attributes, projection []string) kvstore.Attributes {
	if len(projection) == 0 {
		return attrs
	}
	want := make(map[string]struct{}, len(projection))
	for _, f := range projection {
		want[f] = struct{}{}
	}
	out := make(kvstore.Attributes, len(projection))
	for k, v := range attrs {
		if _, ok := want[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Query implements kvstore.Store, supporting the storageId equality
// query and the jobStatus secondary-index query paramz emits. The index
// query scans the items table, where every write lands, and keeps the
// rows whose indexed attribute equals the requested status.
func (s *Store) Query(ctx context.Context, q kvstore.QueryInput) ([]kvstore.Attributes, error) {
	var rows *sql.Rows
	var err error
	var indexField, indexStatus string

	if q.IndexName != "" {
		indexStatus, _ = q.ExpressionAttributeValues[":status"].(string)
		indexField = q.ExpressionAttributeNames["#status"]
		rows, err = s.db.QueryContext(ctx, "SELECT attrs FROM items")
	} else {
		sid, _ := q.ExpressionAttributeValues[":sid"].(string)
		order := "DESC"
		if q.ScanIndexForward {
			order = "ASC"
		}
		if s.dialect == dialectQL {
			rows, err = s.db.QueryContext(ctx, "SELECT attrs FROM items WHERE storage_id == ?1 ORDER BY vid "+order, sid)
		} else {
			rows, err = s.db.QueryContext(ctx, "SELECT attrs FROM items WHERE storage_id = ? ORDER BY vid "+order, sid)
		}
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kvstore.Attributes
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var attrs kvstore.Attributes
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			return nil, err
		}
		if indexField != "" {
			if v, _ := attrs[indexField].(string); v != indexStatus {
				continue
			}
		}
		out = append(out, applyProjection(attrs, q.Projection))
		if q.Limit > 0 && int32(len(out)) >= q.Limit {
			break
		}
	}
	return out, rows.Err()
}

// TransactWrite implements kvstore.Store. Since this is a single real
// SQL database, all writes run inside one transaction; a failed
// condition check anywhere in the batch rolls the whole thing back,
// matching DynamoDB's TransactWriteItems all-or-nothing semantics.
func (s *Store) TransactWrite(ctx context.Context, writes []kvstore.WriteRequest) error {
	if len(writes) > kvstore.MaxTransactItems {
		return kvstore.ErrTransactionTooLarge
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err := s.applyTx(tx, w); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteItem implements kvstore.Store.
func (s *Store) DeleteItem(ctx context.Context, key kvstore.Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.delete(tx, key); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
