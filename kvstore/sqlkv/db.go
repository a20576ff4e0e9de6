// Package sqlkv is a SQL-backed kvstore.Store meant for local development
// and integration tests, supporting both MySQL and an embedded QL
// database: MySQL is migrated through the migration.LimitedTx
// versioning shim, QL applies an equivalent schema script directly, and
// every conditional write is emulated with a read-evaluate-write transaction
// scored by kvstore/condeval rather than a native expression engine.
package sqlkv

import (
	"log"

	"github.com/BurntSushi/migration"
)

// dbVersion adapts the schema-version bookkeeping to whichever SQL
// dialect is in use.
type dbVersion struct {
	GetSQL    string
	SetSQL    string
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		log.Println(err.Error())
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if err := d.set(tx, version); err != nil {
		if err := d.createTable(tx); err != nil {
			return err
		}
		return d.set(tx, version)
	}
	return nil
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	if err := r.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	if err == nil {
		err = d.set(tx, 0)
	}
	return err
}

func execlist(tx migration.LimitedTx, stmts []string) error {
	var err error
	for _, s := range stmts {
		if _, err = tx.Exec(s); err != nil {
			break
		}
	}
	return err
}
