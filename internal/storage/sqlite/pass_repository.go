package sqlite

import (
	"database/sql"

	"github.com/italolelis/mirror_downloader/internal/storage"
)

// PassRepository stores pass records in SQLite.
type PassRepository struct {
	db *sql.DB
}

func NewPassRepository(dbConn *sql.DB) *PassRepository {
	return &PassRepository{db: dbConn}
}

func (r *PassRepository) RecordPass(rec storage.PassRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO passes (started_at, duration_seconds, listed, requested, succeeded, failed, mismatched)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt, rec.DurationSeconds, rec.Listed, rec.Requested, rec.Succeeded, rec.Failed, rec.Mismatched,
	)

	return err
}

// RecentPasses returns the most recent passes, newest first.
func (r *PassRepository) RecentPasses(limit int) ([]storage.PassRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, started_at, duration_seconds, listed, requested, succeeded, failed, mismatched
		 FROM passes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []storage.PassRecord

	for rows.Next() {
		var rec storage.PassRecord

		err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.DurationSeconds,
			&rec.Listed, &rec.Requested, &rec.Succeeded, &rec.Failed, &rec.Mismatched,
		)
		if err != nil {
			return nil, err
		}

		passes = append(passes, rec)
	}

	return passes, rows.Err()
}
