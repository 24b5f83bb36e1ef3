package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/chat"
	"github.com/dvloznov/finance-agent/internal/domain"
)

// ChatService is the chat part of the application facade.
type ChatService interface {
	Chat(ctx context.Context, question string) (*chat.Response, error)
	ChatHistory(ctx context.Context, limit int) ([]*domain.ChatExchange, error)
}

// ChatHandler serves questions and chat history.
type ChatHandler struct {
	svc ChatService
	log zerolog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc ChatService, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, log: log}
}

func (h *ChatHandler) Routes(r chi.Router) {
	r.Post("/", h.Ask)
	r.Get("/history", h.History)
}

// Ask handles POST /api/v1/chat with {"message": "..."}. "question" is
// accepted as an alias.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message  string `json:"message"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Message == "" {
		req.Message = req.Question
	}

	resp, err := h.svc.Chat(r.Context(), req.Message)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Chat failed", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// History handles GET /api/v1/chat/history?limit=
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 0)
	if !ok {
		return
	}
	history, err := h.svc.ChatHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, requestLogger(r, h.log), "Failed to load chat history", err)
		return
	}
	if history == nil {
		history = []*domain.ChatExchange{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": history,
		"count":    len(history),
	})
}
