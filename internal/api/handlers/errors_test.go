package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/chat"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/extract"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/profile"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"chat unavailable", chat.ErrChatUnavailable, http.StatusServiceUnavailable},
		{"rag disabled", fmt.Errorf("Search: %w", rag.ErrDisabled), http.StatusServiceUnavailable},
		{"queue closed", jobs.ErrQueueClosed, http.StatusServiceUnavailable},
		{"document not found", fmt.Errorf("GetDocument: x: %w", store.ErrNotFound), http.StatusNotFound},
		{"job not found", jobs.ErrJobNotFound, http.StatusNotFound},
		{"already processing", store.ErrAlreadyProcessing, http.StatusConflict},
		{"invalid period", profile.ErrInvalidPeriod, http.StatusBadRequest},
		{"empty question", chat.ErrEmptyQuestion, http.StatusBadRequest},
		{"empty upload", app.ErrEmptyUpload, http.StatusBadRequest},
		{"invalid entry", app.ErrInvalidEntry, http.StatusBadRequest},
		{"empty reference", rag.ErrEmptyDocument, http.StatusBadRequest},
		{"malformed analysis", llm.ErrMalformedAnalysis, http.StatusUnprocessableEntity},
		{"extraction", extract.ErrExtraction, http.StatusUnprocessableEntity},
		{"negative investment", fmt.Errorf("StageEntries: entry 2: %w", domain.ErrSignConvention), http.StatusUnprocessableEntity},
		{"manual entry with wrong sign", fmt.Errorf("%w: %w", app.ErrInvalidEntry, domain.ErrSignConvention), http.StatusBadRequest},
		{"rate limited", llm.ErrProviderRateLimited, http.StatusTooManyRequests},
		{"auth", llm.ErrProviderAuth, http.StatusBadGateway},
		{"timeout", llm.ErrProviderTimeout, http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"provider failed", llm.ErrProviderFailed, http.StatusBadGateway},
		{"no embeddings", fmt.Errorf("Add: ref: %w: %w", rag.ErrNoEmbeddings, errors.New("empty vector")), http.StatusBadGateway},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := StatusFor(tt.err)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestStatusFor_HidesInternalDetail(t *testing.T) {
	_, msg := StatusFor(errors.New("sql: connection refused on 10.0.0.3"))

	assert.Equal(t, "Internal server error", msg)
}
