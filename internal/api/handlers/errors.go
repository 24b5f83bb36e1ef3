package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/api/middleware"
	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/chat"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/extract"
	"github.com/dvloznov/finance-agent/internal/filestore"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/profile"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

// StatusFor maps a service error to an HTTP status and a client message.
// Server-side failures get a generic message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrChatUnavailable):
		return http.StatusServiceUnavailable, chat.ErrChatUnavailable.Error()
	case errors.Is(err, rag.ErrDisabled):
		return http.StatusServiceUnavailable, rag.ErrDisabled.Error()
	case errors.Is(err, jobs.ErrQueueClosed):
		return http.StatusServiceUnavailable, "job queue is shutting down"

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, filestore.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, store.ErrAlreadyProcessing):
		return http.StatusConflict, err.Error()

	case errors.Is(err, profile.ErrInvalidPeriod),
		errors.Is(err, chat.ErrEmptyQuestion),
		errors.Is(err, app.ErrEmptyUpload),
		errors.Is(err, app.ErrInvalidEntry),
		errors.Is(err, rag.ErrEmptyDocument):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, llm.ErrMalformedAnalysis),
		errors.Is(err, domain.ErrSignConvention),
		errors.Is(err, extract.ErrExtraction):
		return http.StatusUnprocessableEntity, err.Error()

	case errors.Is(err, llm.ErrProviderRateLimited):
		return http.StatusTooManyRequests, llm.ErrProviderRateLimited.Error()
	case errors.Is(err, llm.ErrProviderAuth):
		return http.StatusBadGateway, "language model provider rejected the configured credentials"
	case errors.Is(err, llm.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, llm.ErrProviderFailed):
		return http.StatusBadGateway, llm.ErrProviderFailed.Error()
	case errors.Is(err, rag.ErrNoEmbeddings):
		return http.StatusBadGateway, rag.ErrNoEmbeddings.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeServiceError logs err and writes the mapped response.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, msg string, err error) {
	status, message := StatusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, message)
}

// requestLogger prefers the request-scoped logger set by middleware.Logger.
func requestLogger(r *http.Request, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := r.Context().Value(logger.LoggerKey).(zerolog.Logger); ok {
		return l
	}
	return fallback
}
