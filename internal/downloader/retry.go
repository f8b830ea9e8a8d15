package downloader

import (
	"context"
	"fmt"

	"github.com/italolelis/mirror_downloader/internal/logctx"
)

// RetryCoordinator re-drives the engine over the failing subset of a batch for
// a bounded number of rounds. The failed set is threaded from one round's
// output into the next round's input; nothing is retained between independent
// Retry calls.
type RetryCoordinator struct {
	engine *Engine
}

func NewRetryCoordinator(engine *Engine) *RetryCoordinator {
	return &RetryCoordinator{engine: engine}
}

// Retry runs up to maxRetries strictly sequential rounds over the shrinking
// failed set and returns the merged result, with later rounds overwriting
// earlier outcomes for the same name. It stops early once a round leaves no
// failures, and stops unconditionally after maxRetries rounds: remaining
// failures come back as data, not as an error. Every failure is retried
// identically with no delay between rounds, regardless of its cause.
//
// Only batch-fatal engine errors propagate.
func (rc *RetryCoordinator) Retry(ctx context.Context, baseURL, remoteDir, targetDir string, failedNames []string, maxRetries int) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	merged := make(Result, len(failedNames))
	for _, name := range failedNames {
		merged[name] = false
	}

	failed := append([]string(nil), failedNames...)

	for round := 1; round <= maxRetries; round++ {
		if len(failed) == 0 {
			break
		}

		logger.Info("retrying failed downloads", "round", round, "files", len(failed))

		results, err := rc.engine.DownloadBatch(ctx, baseURL, remoteDir, failed, targetDir)
		if err != nil {
			return nil, fmt.Errorf("retry round %d: %w", round, err)
		}

		merged.Merge(results)
		failed = results.Failed()
	}

	if len(failed) > 0 {
		logger.Warn("retries exhausted", "still_failing", len(failed))
	}

	return merged, nil
}
