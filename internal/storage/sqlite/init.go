package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the journal database and creates the passes table if it
// doesn't exist.
func InitDB(dbFile string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS passes (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		duration_seconds REAL,
		listed INTEGER,
		requested INTEGER,
		succeeded INTEGER,
		failed INTEGER,
		mismatched INTEGER
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
