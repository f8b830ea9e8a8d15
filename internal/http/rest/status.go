package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mirror_downloader/internal/logctx"
	"github.com/italolelis/mirror_downloader/internal/mirror"
	"github.com/italolelis/mirror_downloader/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const recentPassLimit = 20

// StatusHandler exposes the read-only operational API: liveness, pass status
// and Prometheus metrics. It never triggers mirror work.
type StatusHandler struct {
	mirror  *mirror.Mirror
	journal storage.PassRepository
}

// NewStatusHandler creates a new status handler. The journal may be nil, in
// which case recent pass history is omitted from responses.
func NewStatusHandler(m *mirror.Mirror, journal storage.PassRepository) *StatusHandler {
	return &StatusHandler{
		mirror:  m,
		journal: journal,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type progressInfo struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
}

type statusResponse struct {
	Progress     progressInfo         `json:"progress"`
	LastPass     *mirror.Summary      `json:"last_pass,omitempty"`
	RecentPasses []storage.PassRecord `json:"recent_passes,omitempty"`
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// HandleStatus reports the current pass progress, the last completed pass and
// recent journal history.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	completed, total := h.mirror.Progress()

	response := statusResponse{
		Progress: progressInfo{Completed: completed, Total: total},
		LastPass: h.mirror.LastSummary(),
	}

	if h.journal != nil {
		passes, err := h.journal.RecentPasses(recentPassLimit)
		if err != nil {
			// History is best-effort; progress and last pass are still useful.
			logger.Error("failed to read recent passes", "err", err)
		} else {
			response.RecentPasses = passes
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode status response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
