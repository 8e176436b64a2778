package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/intake"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/rs/zerolog"
)

// multipartOverhead is the allowance for form fields and boundaries on top
// of the file itself.
const multipartOverhead = 1 << 20

// Submitter accepts uploads for ingestion.
type Submitter interface {
	Submit(ctx context.Context, u intake.Upload) (*domain.IngestionJob, error)
}

// JobResponse is the client view of an ingestion job.
type JobResponse struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"accountId"`
	SourceKind    domain.SourceKind `json:"sourceKind"`
	Status        domain.JobStatus  `json:"status"`
	Attempts      int               `json:"attempts"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	ResultSummary *string           `json:"resultSummary,omitempty"`

	// Error is the user-facing failure message.
	Error string `json:"error,omitempty"`
}

// NewJobResponse converts a job, keeping internal error detail out.
func NewJobResponse(job *domain.IngestionJob) JobResponse {
	resp := JobResponse{
		ID:            job.ID,
		AccountID:     job.AccountID,
		SourceKind:    job.SourceKind,
		Status:        job.Status,
		Attempts:      job.Attempts,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		ResultSummary: job.ResultSummary,
	}
	if job.ErrorDetails != nil {
		resp.Error = job.ErrorDetails.UserFriendlyMessage
	}
	return resp
}

// IngestionsHandler handles ingestion job endpoints.
type IngestionsHandler struct {
	intake   Submitter
	store    store.Queries
	maxBytes int64
	log      zerolog.Logger
}

// NewIngestionsHandler creates a new ingestions handler. maxBytes bounds the
// uploaded file size.
func NewIngestionsHandler(intake Submitter, st store.Queries, maxBytes int64, log zerolog.Logger) *IngestionsHandler {
	return &IngestionsHandler{
		intake:   intake,
		store:    st,
		maxBytes: maxBytes,
		log:      log,
	}
}

// Submit handles POST /api/ingestions
// The request is multipart with a file part plus account_id and an optional
// source_kind field.
func (h *IngestionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	job, err := h.intake.Submit(r.Context(), intake.Upload{
		AccountID:   r.FormValue("account_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SourceKind:  r.FormValue("source_kind"),
		Data:        data,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, NewJobResponse(job))
}

func (h *IngestionsHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrInvalidRequest):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupportedSource):
		middleware.WriteError(w, http.StatusUnsupportedMediaType, "Unsupported file type")
	case errors.Is(err, domain.ErrAccountNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, domain.ErrSourceTooLarge):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
	default:
		h.log.Error().Err(err).Msg("Failed to submit ingestion")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to submit ingestion")
	}
}

// GetIngestion handles GET /api/ingestions/{id}
func (h *IngestionsHandler) GetIngestion(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, NewJobResponse(job))
}

// ListIngestions handles GET /api/ingestions
func (h *IngestionsHandler) ListIngestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.JobFilter{AccountID: query.Get("account_id")}
	if s := query.Get("status"); s != "" {
		status, err := domain.ParseJobStatus(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		filter.Status = status
	}
	filter.Limit, filter.Offset = pagination(query.Get("limit"), query.Get("offset"))

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	resp := make([]JobResponse, 0, len(jobsList))
	for _, job := range jobsList {
		resp = append(resp, NewJobResponse(job))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  resp,
		"count": len(resp),
	})
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	store store.Queries
	log   zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(st store.Queries, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		store: st,
		log:   log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.TransactionFilter{
		AccountID: query.Get("account_id"),
		JobID:     query.Get("job_id"),
	}
	if filter.AccountID == "" && filter.JobID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id or job_id is required")
		return
	}
	filter.Limit, filter.Offset = pagination(query.Get("limit"), query.Get("offset"))

	transactions, err := h.store.ListTransactions(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service health.
type HealthHandler struct {
	db  Pinger
	now func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, now: time.Now}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, code, map[string]string{
		"status": status,
		"time":   h.now().Format(time.RFC3339),
	})
}

func pagination(limitStr, offsetStr string) (limit, offset int) {
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}
	if offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
