package http

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/manifest"
	"github.com/meridianidx/meridian/internal/query"
	"github.com/meridianidx/meridian/pkg/types"
)

// DefaultBuildsLimit caps /builds when no limit is given.
const DefaultBuildsLimit = 20

// BuildView is the JSON form of one build log entry.
type BuildView struct {
	BuildID           string             `json:"build_id"`
	ParentBuildID     string             `json:"parent_build_id,omitempty"`
	Mode              types.BuildMode    `json:"mode"`
	Watermark         types.Date         `json:"watermark"`
	DailyChecksum     string             `json:"daily_checksum"`
	IntervalsChecksum string             `json:"intervals_checksum"`
	Summary           types.BuildSummary `json:"summary"`
	CreatedAt         time.Time          `json:"created_at"`
}

// BuildsResponse is the body of GET /v1/universes/{universe}/builds.
type BuildsResponse struct {
	Universe string      `json:"universe"`
	Builds   []BuildView `json:"builds"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Universes []string `json:"universes,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// QueryHandler serves point-in-time membership queries.
type QueryHandler struct {
	reader   *query.Reader
	catalog  manifest.CatalogReader
	gatherer prometheus.Gatherer
}

// NewQueryHandler creates a query handler. gatherer backs /metrics and may
// be nil, in which case /metrics is not served.
func NewQueryHandler(reader *query.Reader, catalog manifest.CatalogReader, gatherer prometheus.Gatherer) *QueryHandler {
	return &QueryHandler{reader: reader, catalog: catalog, gatherer: gatherer}
}

// Routes returns the API mux wrapped in the default middleware.
func (h *QueryHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/universes", h.handleUniverses)
	mux.HandleFunc("GET /v1/universes/{universe}/members", h.handleMembers)
	mux.HandleFunc("GET /v1/universes/{universe}/entities/{entity}", h.handleHistory)
	mux.HandleFunc("GET /v1/universes/{universe}/builds", h.handleBuilds)
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return DefaultMiddleware()(mux)
}

// handleMembers answers ?date=YYYY-MM-DD from the intervals, or from the
// daily table with &source=daily.
func (h *QueryHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	universe := r.PathValue("universe")
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "date is required", "", GetRequestID(r.Context()))
		return
	}
	date, err := types.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q", raw), "", GetRequestID(r.Context()))
		return
	}

	var snap *query.Snapshot
	switch source := r.URL.Query().Get("source"); source {
	case "", "intervals":
		snap, err = h.reader.MembersAsOf(r.Context(), universe, date)
	case "daily":
		snap, err = h.reader.DailySnapshot(r.Context(), universe, date)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid source %q", source), "", GetRequestID(r.Context()))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *QueryHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.reader.EntityHistory(r.Context(), r.PathValue("universe"), r.PathValue("entity"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *QueryHandler) handleBuilds(w http.ResponseWriter, r *http.Request) {
	universe := r.PathValue("universe")
	limit := DefaultBuildsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw), "", GetRequestID(r.Context()))
			return
		}
		limit = n
	}

	builds, err := h.reader.Builds(r.Context(), universe, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := BuildsResponse{Universe: universe, Builds: make([]BuildView, 0, len(builds))}
	for _, b := range builds {
		resp.Builds = append(resp.Builds, BuildView{
			BuildID:           b.BuildID,
			ParentBuildID:     b.ParentBuildID,
			Mode:              b.Mode,
			Watermark:         b.Watermark,
			DailyChecksum:     b.DailyChecksum,
			IntervalsChecksum: b.IntervalsChecksum,
			Summary:           b.Summary,
			CreatedAt:         b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) handleUniverses(w http.ResponseWriter, r *http.Request) {
	universes, err := h.catalog.Universes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if universes == nil {
		universes = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"universes": universes})
}

// handleHealth reports unhealthy when the manifest cannot be read.
func (h *QueryHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	universes, err := h.catalog.Universes(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Universes: universes})
}

func (h *QueryHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[WARN] http: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, err.Error(), merrors.GetCode(err), GetRequestID(r.Context()))
}

// StatusFor maps a query error to an HTTP status code.
func StatusFor(err error) int {
	if errors.Is(err, query.ErrUnknownUniverse) {
		return http.StatusNotFound
	}
	switch merrors.GetCategory(err) {
	case merrors.ErrCategoryInput:
		return http.StatusBadRequest
	case merrors.ErrCategoryStorage:
		if merrors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
