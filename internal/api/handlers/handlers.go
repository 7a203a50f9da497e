package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/dvloznov/qfx2qif/internal/api/middleware"
	"github.com/dvloznov/qfx2qif/internal/convert"
	infra "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
	"github.com/dvloznov/qfx2qif/internal/jobs"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

const (
	// HeaderTransactionCount reports the number of emitted records.
	HeaderTransactionCount = "X-Transaction-Count"
	// HeaderMemoSuppressed is "true" when the input had memos that were left out.
	HeaderMemoSuppressed = "X-Memo-Suppressed"
	// HeaderCache is HIT when the response came from the conversion cache.
	HeaderCache = "X-Cache"

	qifContentType = "text/plain; charset=utf-8"
)

// conversion is a cached conversion result.
type conversion struct {
	qif            []byte
	count          int
	memoSuppressed bool
}

// ConvertHandler converts uploaded OFX bodies to QIF synchronously.
type ConvertHandler struct {
	cache    *cache.Cache
	maxBytes int64
	log      zerolog.Logger
}

// NewConvertHandler creates a new convert handler. Results are cached for
// ttl, keyed by input checksum and options; conversion is idempotent so a
// hit is always identical to a fresh run.
func NewConvertHandler(ttl time.Duration, maxBytes int64, log zerolog.Logger) *ConvertHandler {
	return &ConvertHandler{
		cache:    cache.New(ttl, 2*ttl),
		maxBytes: maxBytes,
		log:      log,
	}
}

// Convert handles POST /api/convert[?include_memo=true&charset=raw&filename=x.qfx]
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	includeMemo := false
	if v := query.Get("include_memo"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid include_memo value")
			return
		}
		includeMemo = b
	}

	mode, err := ofx.ParseCharsetMode(query.Get("charset"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Body exceeds %d bytes", h.maxBytes))
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	sum := sha256.Sum256(body)
	key := fmt.Sprintf("%s:%t:%s", hex.EncodeToString(sum[:]), includeMemo, mode)

	cacheStatus := "HIT"
	var result *conversion
	if cached, ok := h.cache.Get(key); ok {
		result = cached.(*conversion)
	} else {
		cacheStatus = "MISS"
		result, err = runConversion(body, includeMemo, mode)
		if err != nil {
			h.log.Error().Err(err).Msg("Conversion failed")
			middleware.WriteError(w, http.StatusUnprocessableEntity, "Conversion failed")
			return
		}
		h.cache.SetDefault(key, result)
	}

	if name := query.Get("filename"); name != "" {
		if _, out, err := storage.ResolvePaths(name, ""); err == nil {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.ExtractFilename(out)))
		}
	}

	w.Header().Set("Content-Type", qifContentType)
	w.Header().Set(HeaderTransactionCount, strconv.Itoa(result.count))
	w.Header().Set(HeaderMemoSuppressed, strconv.FormatBool(result.memoSuppressed))
	w.Header().Set(HeaderCache, cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.qif)
}

func runConversion(body []byte, includeMemo bool, mode ofx.CharsetMode) (*conversion, error) {
	decoded, _, err := ofx.Decode(body, mode)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	res, err := convert.Convert(decoded, convert.Options{IncludeMemo: includeMemo}, &buf)
	if err != nil {
		return nil, err
	}
	return &conversion{qif: buf.Bytes(), count: res.Count, memoSuppressed: res.MemoSuppressed}, nil
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// CreateJob handles POST /api/jobs
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InputURI    string `json:"input_uri"`
		OutputURI   string `json:"output_uri"`
		IncludeMemo bool   `json:"include_memo"`
		Charset     string `json:"charset"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.InputURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "input_uri is required")
		return
	}
	if _, err := ofx.ParseCharsetMode(req.Charset); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	job := &jobs.ConvertFileJob{
		InputURI:    req.InputURI,
		OutputURI:   req.OutputURI,
		IncludeMemo: req.IncludeMemo,
		Charset:     req.Charset,
	}

	if err := h.publisher.PublishConvertFile(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue convert job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue convert job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("input", job.InputURI).Msg("Convert job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":    job.JobID,
		"input_uri": job.InputURI,
		"status":    string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		InputURI: query.Get("input_uri"),
		Status:   jobs.JobStatus(query.Get("status")),
		Limit:    intParam(query.Get("limit")),
		Offset:   intParam(query.Get("offset")),
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// RunsHandler exposes the conversion-run ledger.
type RunsHandler struct {
	repo infra.RunRepository
	log  zerolog.Logger
}

// NewRunsHandler creates a new runs handler. repo may be nil when no
// ledger is configured.
func NewRunsHandler(repo infra.RunRepository, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		repo: repo,
		log:  log,
	}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Run ledger is not configured")
		return
	}

	runs, err := h.repo.ListRuns(r.Context(), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	if runs == nil {
		runs = []*infra.ConversionRunRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// intParam parses a non-negative integer query value; anything else is 0.
func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
