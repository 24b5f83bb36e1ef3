package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/rag"
)

// RAGService is the reference document part of the application facade.
type RAGService interface {
	RAGAdd(ctx context.Context, id, filename, text string) (*rag.AddResult, error)
	RAGAddFile(ctx context.Context, id, filename string, data []byte) (*rag.AddResult, error)
	RAGSearch(ctx context.Context, query string, k int) ([]rag.SearchResult, error)
	RAGDelete(ctx context.Context, id string) error
	RAGList(ctx context.Context) ([]*domain.ReferenceDocument, error)
	RAGInfo(ctx context.Context, id string) (*domain.ReferenceDocument, error)
}

// RAGHandler serves reference documents and similarity search.
type RAGHandler struct {
	svc RAGService
	log zerolog.Logger
}

// NewRAGHandler creates a new reference document handler.
func NewRAGHandler(svc RAGService, log zerolog.Logger) *RAGHandler {
	return &RAGHandler{svc: svc, log: log}
}

func (h *RAGHandler) Routes(r chi.Router) {
	r.Post("/documents", h.AddDocument)
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/{id}", h.GetDocument)
	r.Delete("/documents/{id}", h.DeleteDocument)
	r.Get("/search", h.Search)
}

// AddDocument handles POST /api/v1/rag/documents. It accepts either JSON
// {"id", "filename", "text"} or a multipart "file" field with optional "id".
func (h *RAGHandler) AddDocument(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.log)

	var (
		res *rag.AddResult
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
			return
		}
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			middleware.WriteError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			middleware.WriteError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		res, err = h.svc.RAGAddFile(r.Context(), r.FormValue("id"), header.Filename, data)
	} else {
		var req struct {
			ID       string `json:"id"`
			Filename string `json:"filename"`
			Text     string `json:"text"`
		}
		if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		res, err = h.svc.RAGAdd(r.Context(), req.ID, req.Filename, req.Text)
	}
	if err != nil {
		writeServiceError(w, log, "Failed to add reference document", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// ListDocuments handles GET /api/v1/rag/documents
func (h *RAGHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.RAGList(r.Context())
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to list reference documents", err)
		return
	}
	if docs == nil {
		docs = []*domain.ReferenceDocument{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// GetDocument handles GET /api/v1/rag/documents/{id}
func (h *RAGHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.RAGInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to get reference document", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/v1/rag/documents/{id}
func (h *RAGHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RAGDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to delete reference document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/rag/search?q=&k=
func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		middleware.WriteError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, ok := intParam(w, r, "k", 0)
	if !ok {
		return
	}

	results, err := h.svc.RAGSearch(r.Context(), q, k)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Search failed", err)
		return
	}
	if results == nil {
		results = []rag.SearchResult{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query":   q,
		"results": results,
		"count":   len(results),
	})
}
