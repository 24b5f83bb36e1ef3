package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/profile"
	"github.com/dvloznov/finance-agent/internal/store"
)

const (
	defaultTrendMonths = 6
	defaultPeriodDays  = 30
)

// ProfileService is the ledger and profile part of the application facade.
type ProfileService interface {
	ProfileSummary(ctx context.Context) (*domain.FinancialProfile, error)
	SpendingTrend(ctx context.Context, months int) (map[string][]float64, error)
	SpendingByPeriod(ctx context.Context, days int) (*profile.SpendingPeriod, error)
	Entries(ctx context.Context, f store.LedgerFilter) ([]*domain.LedgerEntry, error)
	AddEntry(ctx context.Context, m app.ManualEntry) (*domain.LedgerEntry, error)
}

// ProfileHandler serves the financial profile and ledger.
type ProfileHandler struct {
	svc ProfileService
	log zerolog.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(svc ProfileService, log zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, log: log}
}

func (h *ProfileHandler) Routes(r chi.Router) {
	r.Get("/", h.GetProfile)
	r.Get("/trend", h.GetTrend)
	r.Get("/spending", h.GetSpending)
}

func (h *ProfileHandler) EntryRoutes(r chi.Router) {
	r.Get("/", h.ListEntries)
	r.Post("/", h.AddEntry)
}

// GetProfile handles GET /api/v1/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.ProfileSummary(r.Context())
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to compute profile", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// GetTrend handles GET /api/v1/profile/trend?months=
func (h *ProfileHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	months, ok := intParam(w, r, "months", defaultTrendMonths)
	if !ok {
		return
	}
	trend, err := h.svc.SpendingTrend(r.Context(), months)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to compute spending trend", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"months":     months,
		"categories": profile.Categories(trend),
		"trend":      trend,
	})
}

// GetSpending handles GET /api/v1/profile/spending?days=
func (h *ProfileHandler) GetSpending(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", defaultPeriodDays)
	if !ok {
		return
	}
	period, err := h.svc.SpendingByPeriod(r.Context(), days)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to compute spending", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, period)
}

// ListEntries handles GET /api/v1/entries?since=YYYY-MM-DD&document_id=
func (h *ProfileHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.LedgerFilter{SourceDocumentID: query.Get("document_id")}
	if s := query.Get("since"); s != "" {
		since, err := time.Parse(domain.DateLayout, s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid since format, want YYYY-MM-DD")
			return
		}
		filter.Since = since
	}

	entries, err := h.svc.Entries(r.Context(), filter)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to list entries", err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// AddEntry handles POST /api/v1/entries
func (h *ProfileHandler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req app.ManualEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.svc.AddEntry(r.Context(), req)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to add entry", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, entry)
}

// intParam reads an optional integer query parameter. It writes a 400 and
// returns false when the value is not an integer.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return v, true
}
