package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medforge/casgen/internal/artifact"
	"github.com/medforge/casgen/internal/domain"
	"github.com/medforge/casgen/internal/guard"
	"github.com/medforge/casgen/internal/metrics"
	"github.com/medforge/casgen/internal/pipeline"
	"github.com/medforge/casgen/internal/scenario"
	"github.com/medforge/casgen/internal/store"
)

const defaultJobListLimit = 50

// Handler holds all dependencies for the HTTP handlers. Guard and Metrics
// may be nil, which disables authentication and instrumentation.
type Handler struct {
	DB           *sql.DB
	Jobs         *pipeline.Jobs
	Guard        *guard.Guard
	Launcher     *Launcher
	Metrics      *metrics.Recorder
	Artifacts    artifact.Store
	ScenarioRepo *store.ScenarioRepo
	ArtifactRepo *store.ArtifactRepo

	// streamPoll is the SSE live-tail poll interval; zero means 1s.
	streamPoll time.Duration
}

// TokenRequest is the body for POST /api/v1/auth/token.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse is the reply to a successful token exchange.
type TokenResponse struct {
	Token         string `json:"token"`
	TokenType     string `json:"token_type"`
	ExpiresAtUnix int64  `json:"expires_at_unix"`
}

// ScenarioSummary is one row of GET /api/v1/scenarios.
type ScenarioSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CreatedAtUnix int64  `json:"created_at_unix"`
	UpdatedAtUnix int64  `json:"updated_at_unix"`
}

// CreateScenarioResponse returns the stored scenario plus any lint warnings.
type CreateScenarioResponse struct {
	Scenario *scenario.Scenario `json:"scenario"`
	Warnings []string           `json:"warnings,omitempty"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MintToken handles POST /api/v1/auth/token. The key may come from the body
// or the X-API-Key header.
func (h *Handler) MintToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-API-Key")
	}
	if req.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "api_key is required"})
		return
	}

	token, expires, err := h.Guard.MintToken(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:         token,
		TokenType:     "Bearer",
		ExpiresAtUnix: expires.Unix(),
	})
}

// CreateScenario handles POST /api/v1/scenarios. The body is a scenario
// definition; it is normalized and validated before storage.
func (h *Handler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "reading request body"})
		return
	}
	scn, err := scenario.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if scn.ID == "" {
		scn.ID = "scn-" + uuid.NewString()
	}

	lint := &scenario.Linter{}
	_, warnings := lint.Check(scn)

	def, err := json.Marshal(scn)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now().Unix()
	rec := store.ScenarioRecord{
		ID:            scn.ID,
		Name:          scn.Name,
		Definition:    string(def),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := h.ScenarioRepo.Create(r.Context(), h.DB, rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateScenarioResponse{Scenario: scn, Warnings: warnings})
}

// ListScenarios handles GET /api/v1/scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	recs, err := h.ScenarioRepo.List(r.Context(), h.DB)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]ScenarioSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, ScenarioSummary{
			ID:            rec.ID,
			Name:          rec.Name,
			CreatedAtUnix: rec.CreatedAtUnix,
			UpdatedAtUnix: rec.UpdatedAtUnix,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetScenario handles GET /api/v1/scenarios/{scenarioID}.
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ScenarioRepo.GetByID(r.Context(), h.DB, r.PathValue("scenarioID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(rec.Definition))
}

// DeleteScenario handles DELETE /api/v1/scenarios/{scenarioID}.
func (h *Handler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	if err := h.ScenarioRepo.Delete(r.Context(), h.DB, r.PathValue("scenarioID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitJob handles POST /api/v1/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req scenario.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if (req.Scenario == nil) == (req.ScenarioID == "") {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "exactly one of scenario or scenario_id is required"})
		return
	}

	scn := req.Scenario
	if req.ScenarioID != "" {
		rec, err := h.ScenarioRepo.GetByID(r.Context(), h.DB, req.ScenarioID)
		if err != nil {
			writeError(w, err)
			return
		}
		scn, err = scenario.Parse([]byte(rec.Definition))
		if err != nil {
			writeError(w, err)
			return
		}
	}
	scn.Normalize()
	v := &scenario.Validator{}
	if err := v.Validate(scn); err != nil {
		writeError(w, err)
		return
	}

	job := &domain.GenerationJob{
		JobID:       "job-" + uuid.NewString(),
		ScenarioID:  req.ScenarioID,
		Seed:        req.Seed,
		WorkerCount: req.Workers,
		Policy:      req.Policy,
		Requested:   scn.Population,
	}
	if err := h.Launcher.Launch(job, scn, req.Output); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.GetJob(r.Context(), r.PathValue("jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs?limit=N.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	jobs, err := h.Jobs.JobRepo.List(r.Context(), h.DB, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.GenerationJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CancelJob handles POST /api/v1/jobs/{jobID}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	job, err := h.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
		writeError(w, domain.ErrJobAlreadyDone)
		return
	}
	h.Launcher.Cancel(jobID)
	w.WriteHeader(http.StatusNoContent)
}

// ListJobEvents handles GET /api/v1/jobs/{jobID}/events?since_seq=N.
func (h *Handler) ListJobEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Jobs.Events(r.Context(), r.PathValue("jobID"), sinceSeq(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.JobEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetJobStats handles GET /api/v1/jobs/{jobID}/stats.
func (h *Handler) GetJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Jobs.StatRepo.ListByJob(r.Context(), h.DB, r.PathValue("jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if stats == nil {
		stats = []domain.PhaseStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListJobArtifacts handles GET /api/v1/jobs/{jobID}/artifacts.
func (h *Handler) ListJobArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := h.ArtifactRepo.ListByJob(r.Context(), h.DB, r.PathValue("jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if arts == nil {
		arts = []domain.Artifact{}
	}
	writeJSON(w, http.StatusOK, arts)
}

// DownloadArtifact handles GET /api/v1/artifacts/{key...}. S3-backed stores
// redirect to a presigned URL; other drivers stream the bytes directly.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, err := h.ArtifactRepo.GetByKey(r.Context(), h.DB, key); err != nil {
		writeError(w, err)
		return
	}

	if h.Artifacts.Driver() == artifact.DriverS3 {
		url, err := h.Artifacts.PresignURL(r.Context(), key, artifact.SignedURLOptions{})
		if err != nil {
			writeError(w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	info, rc, err := h.Artifacts.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.SHA256 != "" {
		w.Header().Set("X-Content-SHA256", info.SHA256)
	}
	io.Copy(w, rc)
}

// StreamJobEvents handles GET /api/v1/jobs/{jobID}/events/stream (SSE). The
// event log is replayed from since_seq, then tailed until the job reaches a
// terminal state or the client disconnects.
func (h *Handler) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	job, err := h.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastSeq := sinceSeq(r)
	events, err := h.Jobs.Events(r.Context(), jobID, lastSeq)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	for _, ev := range events {
		writeSSEEvent(w, flusher, ev)
		lastSeq = ev.SeqNo
	}
	if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
		return
	}

	poll := h.streamPoll
	if poll <= 0 {
		poll = time.Second
	}
	ctx := r.Context()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newEvents, err := h.Jobs.Events(ctx, jobID, lastSeq)
			if err != nil {
				return
			}
			for _, ev := range newEvents {
				writeSSEEvent(w, flusher, ev)
				lastSeq = ev.SeqNo
			}
			current, err := h.Jobs.GetJob(ctx, jobID)
			if err != nil {
				return
			}
			if current.Status == domain.JobCompleted || current.Status == domain.JobFailed {
				return
			}
		}
	}
}

func sinceSeq(r *http.Request) int64 {
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrJobNotFound.Code, domain.ErrScenarioNotFound.Code, domain.ErrArtifactNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrScenarioInvalid.Code, domain.ErrInvalidPopulation.Code:
			status = http.StatusBadRequest
		case domain.ErrDuplicateScenario.Code, domain.ErrDuplicateJob.Code:
			status = http.StatusConflict
		case domain.ErrUnauthorized.Code, domain.ErrTokenInvalid.Code, domain.ErrTokenExpired.Code, domain.ErrKeyDisabled.Code:
			status = http.StatusUnauthorized
		case domain.ErrPermissionDenied.Code:
			status = http.StatusForbidden
		case domain.ErrRateLimitExceeded.Code, domain.ErrJobLimitReached.Code:
			status = http.StatusTooManyRequests
		case domain.ErrInvalidJobStatus.Code, domain.ErrJobAlreadyDone.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.JobEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
