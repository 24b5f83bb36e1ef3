package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/config"
)

// SettingsService is the runtime settings part of the application facade.
type SettingsService interface {
	LLMInfo() (provider, model string)
	RAGEnabled() bool
	UpdateLLMSettings(ctx context.Context, settings config.LLM) error
}

// SystemHandler serves health and runtime settings.
type SystemHandler struct {
	svc SettingsService
	log zerolog.Logger
	now func() time.Time

	mu       sync.Mutex
	settings config.LLM
}

// NewSystemHandler creates a system handler. current is the LLM settings the
// service was built with; updates are applied on top of it.
func NewSystemHandler(svc SettingsService, current config.LLM, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{svc: svc, log: log, now: time.Now, settings: current}
}

func (h *SystemHandler) Routes(r chi.Router) {
	r.Get("/settings/llm", h.GetLLMSettings)
	r.Put("/settings/llm", h.UpdateLLMSettings)
}

// Health handles GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	provider, model := h.svc.LLMInfo()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"time":        h.now().Format(time.RFC3339),
		"provider":    provider,
		"model":       model,
		"rag_enabled": h.svc.RAGEnabled(),
	})
}

// GetLLMSettings handles GET /api/v1/settings/llm
func (h *SystemHandler) GetLLMSettings(w http.ResponseWriter, r *http.Request) {
	provider, model := h.svc.LLMInfo()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"provider": provider,
		"model":    model,
	})
}

// LLMSettingsRequest carries the fields a client may change. Empty fields
// keep their current value.
type LLMSettingsRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// UpdateLLMSettings handles PUT /api/v1/settings/llm
func (h *SystemHandler) UpdateLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req LLMSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.settings
	if req.Provider != "" && req.Provider != next.Provider {
		next.Provider = req.Provider
		// A new provider has its own default model.
		next.Model = ""
	}
	if req.APIKey != "" {
		next.APIKey = req.APIKey
	}
	if req.Model != "" {
		next.Model = req.Model
	}
	if req.BaseURL != "" {
		next.BaseURL = req.BaseURL
	}

	if err := h.svc.UpdateLLMSettings(r.Context(), next); err != nil {
		log := requestLogger(r, h.log)
		log.Warn().Err(err).Str("settings", next.String()).Msg("Rejected llm settings")
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.settings = next

	provider, model := h.svc.LLMInfo()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"provider": provider,
		"model":    model,
	})
}
