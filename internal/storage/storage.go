// Package storage defines the mirror pass journal. The journal is
// reporting-only history for operators: reconciliation and download decisions
// always work from the filesystem, never from journal contents.
package storage

// PassRecord is one completed mirror pass.
type PassRecord struct {
	ID              int64   `json:"id"`
	StartedAt       string  `json:"started_at"` // RFC3339
	DurationSeconds float64 `json:"duration_seconds"`
	Listed          int     `json:"listed"`
	Requested       int     `json:"requested"`
	Succeeded       int     `json:"succeeded"`
	Failed          int     `json:"failed"`
	Mismatched      int     `json:"mismatched"`
}

// Clean reports whether the pass left nothing to re-run.
func (r PassRecord) Clean() bool {
	return r.Failed == 0 && r.Mismatched == 0
}

// PassRepository persists and reads back pass records.
type PassRepository interface {
	RecordPass(rec PassRecord) error
	RecentPasses(limit int) ([]PassRecord, error)
}
