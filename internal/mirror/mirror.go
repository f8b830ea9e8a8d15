// Package mirror orchestrates one incremental mirror pass: list the remote
// collection, reconcile against the local directory, download what's missing,
// retry the failures, and optionally verify checksums.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mirror_downloader/internal/checksum"
	"github.com/italolelis/mirror_downloader/internal/downloader"
	"github.com/italolelis/mirror_downloader/internal/listing"
	"github.com/italolelis/mirror_downloader/internal/logctx"
	"github.com/italolelis/mirror_downloader/internal/storage"
	"github.com/italolelis/mirror_downloader/internal/telemetry"
)

const dirPerm = 0755

// Config holds the pass parameters. They are fixed for the lifetime of a
// Mirror; nothing is carried between passes except what is on disk.
type Config struct {
	BaseURL   string
	RemoteDir string
	TargetDir string

	// Optional name filters applied to the missing set before download.
	Prefix string
	Suffix string

	MaxRetries int

	VerifyChecksums bool
	ChecksumExt     string // companion extension without the dot, e.g. "md5"
	ChecksumField   int    // whitespace field of the companion's first line
}

// Summary describes one completed pass.
type Summary struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Listed     int           `json:"listed"`
	Requested  int           `json:"requested"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Mismatched int           `json:"mismatched"`
	Bytes      int64         `json:"bytes"`
}

// Clean reports whether the pass left nothing to re-run: no failed downloads
// and no checksum mismatches.
func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.Mismatched == 0
}

type Mirror struct {
	lister  listing.Lister
	engine  *downloader.Engine
	retrier *downloader.RetryCoordinator
	journal storage.PassRepository
	tel     *telemetry.Telemetry
	cfg     Config

	lastSummary atomic.Pointer[Summary]

	// OnPassCompleted receives every pass summary. Sends are best-effort: a
	// missing or slow consumer drops the event, never blocks a pass.
	OnPassCompleted chan *Summary
}

func New(
	lister listing.Lister,
	engine *downloader.Engine,
	retrier *downloader.RetryCoordinator,
	journal storage.PassRepository,
	tel *telemetry.Telemetry,
	cfg Config,
) *Mirror {
	return &Mirror{
		lister:          lister,
		engine:          engine,
		retrier:         retrier,
		journal:         journal,
		tel:             tel,
		cfg:             cfg,
		OnPassCompleted: make(chan *Summary, 1),
	}
}

func (m *Mirror) Close() {
	close(m.OnPassCompleted)
}

// LastSummary returns the most recent pass summary, or nil before the first
// pass completes.
func (m *Mirror) LastSummary() *Summary {
	return m.lastSummary.Load()
}

// Progress exposes the engine's completed/total counters for observers.
func (m *Mirror) Progress() (completed, total int64) {
	return m.engine.Progress()
}

// Sync runs one mirror pass. Listing and target directory failures are fatal
// to the pass; per-file download failures and checksum mismatches are counted
// in the summary instead.
func (m *Mirror) Sync(ctx context.Context) (*Summary, error) {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	names, err := m.lister.ListFiles(ctx, m.cfg.RemoteDir)
	if err != nil {
		m.tel.RecordSystemError("listing", "list_failed")

		return nil, fmt.Errorf("failed to list remote files: %w", err)
	}

	existing, err := m.reconcileLocal(ctx)
	if err != nil {
		return nil, err
	}

	missing := m.missingNames(names, existing)

	summary := &Summary{StartedAt: start, Listed: len(names), Requested: len(missing)}

	logger.Info("mirror pass starting",
		"listed", len(names),
		"existing", len(existing),
		"missing", len(missing),
	)

	results := make(downloader.Result)

	if len(missing) > 0 {
		results, err = m.engine.DownloadBatch(ctx, m.cfg.BaseURL, m.cfg.RemoteDir, missing, m.cfg.TargetDir)
		if err != nil {
			return nil, fmt.Errorf("download batch failed: %w", err)
		}

		if failed := results.Failed(); len(failed) > 0 && m.cfg.MaxRetries > 0 {
			retried, err := m.retrier.Retry(ctx, m.cfg.BaseURL, m.cfg.RemoteDir, m.cfg.TargetDir, failed, m.cfg.MaxRetries)
			if err != nil {
				return nil, fmt.Errorf("retrying failed downloads: %w", err)
			}

			results.Merge(retried)
		}
	}

	summary.Succeeded = results.Succeeded()
	summary.Failed = len(results.Failed())
	summary.Bytes = m.accountDownloads(results)

	if m.cfg.VerifyChecksums {
		summary.Mismatched = m.verifyDownloads(ctx, results)
	}

	summary.Duration = time.Since(start)
	m.finishPass(ctx, summary)

	return summary, nil
}

func (m *Mirror) finishPass(ctx context.Context, summary *Summary) {
	logger := logctx.LoggerFromContext(ctx)

	m.lastSummary.Store(summary)

	status := "clean"
	if !summary.Clean() {
		status = "dirty"
	}
	m.tel.RecordPass(status, summary.Duration)

	if m.journal != nil {
		rec := storage.PassRecord{
			StartedAt:       summary.StartedAt.Format(time.RFC3339),
			DurationSeconds: summary.Duration.Seconds(),
			Listed:          summary.Listed,
			Requested:       summary.Requested,
			Succeeded:       summary.Succeeded,
			Failed:          summary.Failed,
			Mismatched:      summary.Mismatched,
		}
		if err := m.journal.RecordPass(rec); err != nil {
			logger.Error("failed to record pass in journal", "err", err)
			m.tel.RecordSystemError("journal", "record_failed")
		}
	}

	logger.Info("mirror pass finished",
		"requested", summary.Requested,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"mismatched", summary.Mismatched,
		"downloaded", humanize.Bytes(uint64(summary.Bytes)),
		"duration", summary.Duration.String(),
	)

	if summary.Mismatched > 0 {
		logger.Error("checksum verification removed mismatched files; re-run to download them again",
			"count", summary.Mismatched)
	}

	select {
	case m.OnPassCompleted <- summary:
	default:
	}
}

// reconcileLocal scans the target directory and returns the set of names that
// already hold content. Zero-byte files and leftover temp files from an
// interrupted run are deleted so their names count as missing again.
func (m *Mirror) reconcileLocal(ctx context.Context) (map[string]struct{}, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(m.cfg.TargetDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	entries, err := os.ReadDir(m.cfg.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read target directory: %w", err)
	}

	existing := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		path := filepath.Join(m.cfg.TargetDir, name)

		if strings.HasSuffix(name, downloader.TempSuffix) {
			logger.Warn("removing leftover temp file", "file", name)
			m.removeFile(ctx, path)

			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if info.Size() == 0 {
			logger.Warn("removing empty local file", "file", name)
			m.removeFile(ctx, path)

			continue
		}

		existing[name] = struct{}{}
	}

	return existing, nil
}

// missingNames returns the sorted listing minus the existing set, with the
// optional prefix/suffix filters applied.
func (m *Mirror) missingNames(listed []string, existing map[string]struct{}) []string {
	missing := make([]string, 0, len(listed))

	for _, name := range listed {
		if _, ok := existing[name]; ok {
			continue
		}

		if m.cfg.Prefix != "" && !strings.HasPrefix(name, m.cfg.Prefix) {
			continue
		}

		if m.cfg.Suffix != "" && !strings.HasSuffix(name, m.cfg.Suffix) && !strings.HasSuffix(name, m.cfg.Suffix+"."+m.checksumExt()) {
			continue
		}

		missing = append(missing, name)
	}

	sort.Strings(missing)

	return missing
}

// accountDownloads records per-file outcomes and returns the bytes now on
// disk for this pass's successful downloads.
func (m *Mirror) accountDownloads(results downloader.Result) int64 {
	var bytes int64

	for name, ok := range results {
		if !ok {
			m.tel.RecordDownload("error")

			continue
		}

		m.tel.RecordDownload("success")

		if info, err := os.Stat(filepath.Join(m.cfg.TargetDir, name)); err == nil {
			bytes += info.Size()
		}
	}

	m.tel.AddDownloadBytes(bytes)

	return bytes
}

// verifyDownloads checks every successfully downloaded data file against its
// companion checksum file and deletes both halves of a mismatched pair. The
// deleted names are absent from the local set, so the next pass re-downloads
// them.
func (m *Mirror) verifyDownloads(ctx context.Context, results downloader.Result) int {
	logger := logctx.LoggerFromContext(ctx)
	ext := "." + m.checksumExt()

	var targets []string

	for name, ok := range results {
		if ok && !strings.HasSuffix(name, ext) {
			targets = append(targets, name)
		}
	}

	sort.Strings(targets)

	mismatches := 0

	for _, name := range targets {
		target := filepath.Join(m.cfg.TargetDir, name)
		companion := target + ext

		if checksum.Verify(ctx, target, companion, m.cfg.ChecksumField) {
			m.tel.RecordVerification("success")

			continue
		}

		m.tel.RecordVerification("mismatch")
		mismatches++

		logger.Warn("verification failed, removing pair", "file", name)
		m.removeFile(ctx, target)
		m.removeFile(ctx, companion)
	}

	return mismatches
}

func (m *Mirror) removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logctx.LoggerFromContext(ctx).Error("failed to remove file", "file", path, "err", err)
		m.tel.RecordSystemError("mirror", "remove_failed")
	}
}

func (m *Mirror) checksumExt() string {
	ext := strings.TrimPrefix(m.cfg.ChecksumExt, ".")
	if ext == "" {
		ext = "md5"
	}

	return ext
}
