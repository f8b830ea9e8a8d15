package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/mirror_downloader/internal/storage"
	"github.com/italolelis/mirror_downloader/internal/telemetry"
)

// InstrumentedPassRepository wraps PassRepository with telemetry.
type InstrumentedPassRepository struct {
	repo      *PassRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedPassRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedPassRepository {
	return &InstrumentedPassRepository{
		repo:      NewPassRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedPassRepository) RecordPass(rec storage.PassRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "record_pass", func(ctx context.Context) error {
		return r.repo.RecordPass(rec)
	})
}

func (r *InstrumentedPassRepository) RecentPasses(limit int) ([]storage.PassRecord, error) {
	var result []storage.PassRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "recent_passes", func(ctx context.Context) error {
		result, err = r.repo.RecentPasses(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
