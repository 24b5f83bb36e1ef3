package app

import (
	"context"
	"sync/atomic"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/llm"
)

// gatewayHolder lets the pipeline and chat keep one reference while the
// gateway behind it is swapped.
type gatewayHolder struct {
	current atomic.Pointer[llm.Gateway]
}

func newGatewayHolder(g *llm.Gateway) *gatewayHolder {
	h := &gatewayHolder{}
	h.current.Store(g)
	return h
}

func (h *gatewayHolder) Load() *llm.Gateway   { return h.current.Load() }
func (h *gatewayHolder) Store(g *llm.Gateway) { h.current.Store(g) }

func (h *gatewayHolder) ExtractStructured(ctx context.Context, text string, docType domain.DocumentType) (*domain.StructuredAnalysis, error) {
	return h.Load().ExtractStructured(ctx, text, docType)
}

func (h *gatewayHolder) Answer(ctx context.Context, question string, in llm.ChatInput) (string, error) {
	return h.Load().Answer(ctx, question, in)
}
