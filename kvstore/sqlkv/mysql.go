package sqlkv

import (
	"log"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
)

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

var mysqlMigrations = []migration.Migrator{
	mysqlSchema1,
}

func mysqlSchema1(tx migration.LimitedTx) error {
	return execlist(tx, []string{
		`CREATE TABLE IF NOT EXISTS items (
			storage_id varchar(255),
			vid bigint,
			attrs longtext,
			PRIMARY KEY (storage_id, vid))`,
		`CREATE TABLE IF NOT EXISTS export_jobs (
			job_id varchar(255) PRIMARY KEY,
			job_status varchar(64),
			attrs longtext)`,
		`CREATE INDEX idx_export_jobs_status ON export_jobs (job_status)`,
	})
}

// OpenMySQL connects to a MySQL database at dial (a go-sql-driver DSN),
// running the schema migrations above, and returns a ready Store.
func OpenMySQL(dial string) (*Store, error) {
	db, err := migration.OpenWith("mysql", dial, mysqlMigrations, mysqlVersioning.Get, mysqlVersioning.Set)
	if err != nil {
		log.Printf("sqlkv: open mysql: %s", err.Error())
		return nil, err
	}
	return &Store{db: db, dialect: dialectMySQL}, nil
}
