package database

import (
	"log"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Connect opens a SQLite database using the provided DSN. Foreign keys are
// enabled so sale items cascade with their sale.
func Connect(dsn string) *sqlx.DB {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		log.Fatalf("failed to enable foreign keys: %v", err)
	}
	return db
}
