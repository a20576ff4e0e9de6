package sqlkv

import (
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"

	_ "github.com/cznic/ql/driver"
)

// memDBSeq names each in-memory database opened by OpenQL, so that two
// stores opened with "memory" never share rows.
var memDBSeq atomic.Int64

const qlSchema = `
	CREATE TABLE IF NOT EXISTS items (
		storage_id string,
		vid int64,
		attrs string
	);
	CREATE UNIQUE INDEX IF NOT EXISTS itemskey ON items (storage_id, vid);
	CREATE TABLE IF NOT EXISTS export_jobs (
		job_id string,
		job_status string,
		attrs string
	);
	CREATE UNIQUE INDEX IF NOT EXISTS exportjobskey ON export_jobs (job_id);
	CREATE INDEX IF NOT EXISTS exportjobsstatus ON export_jobs (job_status);
`

// OpenQL opens an embedded, pure-Go QL database at path (the literal
// name "memory" opens a fresh, private database kept in RAM), for use in tests that want a
// real SQL engine without a network dependency. Grounded on the
// teacher's own QL-backed dev cache.
func OpenQL(path string) (*Store, error) {
	var db *sql.DB
	var err error
	if path == "memory" {
		db, err = sql.Open("ql-mem", fmt.Sprintf("mem%d.db", memDBSeq.Add(1)))
	} else {
		db, err = sql.Open("ql", path)
	}
	if err != nil {
		log.Printf("sqlkv: open ql: %s", err.Error())
		return nil, err
	}
	if err := performExec(db, qlSchema); err != nil {
		log.Printf("sqlkv: ql schema: %s", err.Error())
		return nil, err
	}
	return &Store{db: db, dialect: dialectQL}, nil
}

func performExec(db *sql.DB, script string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(script); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
