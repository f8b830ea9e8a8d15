package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mirror_downloader/internal/downloader/progress"
	"github.com/italolelis/mirror_downloader/internal/logctx"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm = 0755

	// copyBlockSize is the size of the blocks a response body is streamed in.
	copyBlockSize = 1 << 20

	progressInterval = int64(10 * 1024 * 1024)
)

// TempSuffix marks in-flight downloads on disk. A file carrying it holds
// partial content and must never be treated as a completed download, including
// leftovers from an interrupted prior run.
const TempSuffix = ".download"

// Engine transfers batches of named files from a base URL into a local
// directory under a fixed ceiling of simultaneously in-flight transfers.
//
// The engine holds no state across batches; the progress counters are reset at
// the start of every DownloadBatch call.
type Engine struct {
	httpClient  *http.Client
	maxParallel int

	completed atomic.Int64
	total     atomic.Int64
}

// NewEngine creates an engine that downloads through httpClient with at most
// maxParallel transfers in flight. The client configuration, including its
// timeout, is shared read-only by all concurrent attempts.
func NewEngine(httpClient *http.Client, maxParallel int) *Engine {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Engine{
		httpClient:  httpClient,
		maxParallel: maxParallel,
	}
}

// Progress reports completed attempts (successes plus failures) against the
// batch total. It is observational only; no control decision depends on it.
func (e *Engine) Progress() (completed, total int64) {
	return e.completed.Load(), e.total.Load()
}

// DownloadBatch downloads every name under baseURL/remoteDir into targetDir.
//
// The returned result carries exactly one outcome per requested name. Failed
// attempts (non-2xx status, transport error, timeout, truncated body) are
// recorded as data and never abort sibling transfers. The only batch-fatal
// condition is the inability to create targetDir, reported as an error before
// any transfer starts.
func (e *Engine) DownloadBatch(ctx context.Context, baseURL, remoteDir string, names []string, targetDir string) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	e.completed.Store(0)
	e.total.Store(int64(len(names)))

	results := make(Result, len(names))
	if len(names) == 0 {
		return results, nil
	}

	if err := os.MkdirAll(targetDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	logger.Info("starting download batch", "files", len(names), "max_parallel", e.maxParallel)

	var mu sync.Mutex

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.maxParallel)

	for i, name := range names {
		name := name
		slot := i % e.maxParallel
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			err := e.downloadFile(ctx, joinURL(baseURL, remoteDir, name), filepath.Join(targetDir, name), slot)
			if err != nil {
				logger.Error("failed to download file", "file", name, "err", err)
			}

			mu.Lock()
			results[name] = err == nil
			mu.Unlock()

			e.completed.Add(1)

			return nil
		})
	}

	// Per-file failures surface in the result map, never as group errors.
	_ = wg.Wait()

	logger.Info("download batch finished", "succeeded", results.Succeeded(), "files", len(names))

	return results, nil
}

// downloadFile transfers one file into targetPath via a temporary sibling.
// At any observable instant targetPath is either absent or holds the complete
// remote content.
func (e *Engine) downloadFile(ctx context.Context, url, targetPath string, slot int) error {
	logger := logctx.LoggerFromContext(ctx).With("url", url, "slot", slot)

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	tempPath := targetPath + TempSuffix

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := e.writeBody(ctx, out, resp.Body, url, resp.ContentLength)

	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		err = fmt.Errorf("truncated body: got %d of %d bytes", written, resp.ContentLength)
	}

	if err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("failed to remove temp file", "path", tempPath, "err", removeErr)
		}

		return err
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("failed to remove temp file", "path", tempPath, "err", removeErr)
		}

		return fmt.Errorf("failed to finalize file: %w", err)
	}

	logger.Debug("downloaded and saved file", "target", targetPath, "size", humanize.Bytes(uint64(written)))

	return nil
}

func (e *Engine) writeBody(ctx context.Context, out io.Writer, body io.Reader, url string, total int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	progressCb := func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"url", url,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "url", url, "downloaded", humanize.Bytes(uint64(read)))
		}
	}
	pr := progress.NewReader(body, total, progressInterval, progressCb)

	// onlyWriter hides any ReadFrom fast path so the copy honors the block size.
	return io.CopyBuffer(onlyWriter{out}, pr, make([]byte, copyBlockSize))
}

type onlyWriter struct {
	io.Writer
}

// joinURL joins URL parts with single separating slashes, regardless of
// leading or trailing slashes on the inputs. Empty parts are skipped.
func joinURL(parts ...string) string {
	trimmed := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}

	return strings.Join(trimmed, "/")
}
