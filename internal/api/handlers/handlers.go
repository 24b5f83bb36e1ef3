package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/pipeline"
)

// MaxUploadBytes bounds a multipart upload.
const MaxUploadBytes = 32 << 20

// DocumentService is the document part of the application facade.
type DocumentService interface {
	Upload(ctx context.Context, filename string, data []byte) (*domain.Document, error)
	ListDocuments(ctx context.Context) ([]*domain.Document, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	Process(ctx context.Context, id string) (*pipeline.AnalysisResult, error)
	Enqueue(ctx context.Context, id string) (*jobs.ProcessDocumentJob, error)
}

// DocumentsHandler handles document-related endpoints.
type DocumentsHandler struct {
	svc DocumentService
	log zerolog.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(svc DocumentService, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		svc: svc,
		log: log,
	}
}

func (h *DocumentsHandler) Routes(r chi.Router) {
	r.Post("/", h.UploadDocument)
	r.Get("/", h.ListDocuments)
	r.Get("/{id}", h.GetDocument)
	r.Delete("/{id}", h.DeleteDocument)
	r.Post("/{id}/process", h.ProcessDocument)
}

// UploadDocument handles POST /api/v1/documents with a multipart "file" field.
func (h *DocumentsHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.log)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	doc, err := h.svc.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeServiceError(w, log, "Failed to upload document", err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, doc)
}

// ListDocuments handles GET /api/v1/documents
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to list documents", err)
		return
	}
	if documents == nil {
		documents = []*domain.Document{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"count":     len(documents),
	})
}

// GetDocument handles GET /api/v1/documents/{id}
func (h *DocumentsHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to get document", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/v1/documents/{id}
func (h *DocumentsHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessDocument handles POST /api/v1/documents/{id}/process. With
// ?async=true the document is queued and 202 is returned with the job.
func (h *DocumentsHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.log)
	id := chi.URLParam(r, "id")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, err := h.svc.Enqueue(r.Context(), id)
		if err != nil {
			writeServiceError(w, log, "Failed to enqueue processing job", err)
			return
		}
		log.Info().Str("job_id", job.JobID).Str("document_id", id).Msg("Processing job enqueued")
		middleware.WriteJSON(w, http.StatusAccepted, job)
		return
	}

	result, err := h.svc.Process(r.Context(), id)
	if err != nil {
		writeServiceError(w, log, "Failed to process document", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// JobService is the job part of the application facade.
type JobService interface {
	Job(ctx context.Context, jobID string) (*jobs.ProcessDocumentJob, error)
	Jobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ProcessDocumentJob, error)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	svc JobService
	log zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(svc JobService, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		svc: svc,
		log: log,
	}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/", h.ListJobs)
	r.Get("/{id}", h.GetJob)
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to get job", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		DocumentID: query.Get("document_id"),
		Status:     jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.svc.Jobs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to list jobs", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
