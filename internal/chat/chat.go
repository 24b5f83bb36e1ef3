// Package chat answers questions about the user's finances, grounded in the
// profile snapshot, reference documents and recent conversation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

var (
	// ErrChatUnavailable is the user-facing error for a failed model call.
	ErrChatUnavailable = errors.New("the assistant is unavailable right now, please try again later")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

const (
	DefaultRecentMessages = 5
	DefaultHistoryLimit   = 50
)

// ProfileSource provides the compact financial snapshot.
type ProfileSource interface {
	ChatContext(ctx context.Context) (*domain.CompactContext, error)
}

// Retriever provides reference material for a question.
type Retriever interface {
	HasDocuments(ctx context.Context) (bool, error)
	ContextForQuery(ctx context.Context, query string) (string, error)
}

// Answerer calls the language model.
type Answerer interface {
	Answer(ctx context.Context, question string, in llm.ChatInput) (string, error)
}

// Response is the result of Ask.
type Response struct {
	Answer      string          `json:"answer"`
	ContextUsed json.RawMessage `json:"context_used"`
}

// Options tune the orchestrator. Zero values use defaults.
type Options struct {
	RecentMessages int
	Now            func() time.Time
	NewID          func() string
}

// Orchestrator assembles chat context, calls the model and records the
// exchange.
type Orchestrator struct {
	profile   ProfileSource
	retriever Retriever
	answerer  Answerer
	chats     store.ChatRepository
	opts      Options
	log       zerolog.Logger
}

// New creates an Orchestrator. retriever may be nil.
func New(profile ProfileSource, retriever Retriever, answerer Answerer, chats store.ChatRepository, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.RecentMessages <= 0 {
		opts.RecentMessages = DefaultRecentMessages
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{
		profile:   profile,
		retriever: retriever,
		answerer:  answerer,
		chats:     chats,
		opts:      opts,
		log:       log,
	}
}

// Ask answers a question. The exchange is persisted only when the model
// call succeeds; a model failure is returned as ErrChatUnavailable.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("Ask: %w", ErrEmptyQuestion)
	}

	in, err := o.buildInput(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("Ask: %w", err)
	}

	contextJSON, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("Ask: encoding context: %w", err)
	}

	answer, err := o.answerer.Answer(ctx, question, in)
	if err != nil {
		o.log.Error().Err(err).Msg("chat model call failed")
		return nil, fmt.Errorf("Ask: %w: %w", ErrChatUnavailable, err)
	}

	ex := &domain.ChatExchange{
		ID:          o.opts.NewID(),
		Message:     question,
		Response:    answer,
		ContextUsed: contextJSON,
		Timestamp:   o.opts.Now().UTC(),
	}
	if err := o.chats.AppendExchange(ctx, ex); err != nil {
		return nil, fmt.Errorf("Ask: saving exchange: %w", err)
	}

	o.log.Info().
		Str("exchange_id", ex.ID).
		Int("question_chars", len(question)).
		Int("answer_chars", len(answer)).
		Bool("retrieval", in.Retrieved != "").
		Msg("chat answered")

	return &Response{Answer: answer, ContextUsed: contextJSON}, nil
}

func (o *Orchestrator) buildInput(ctx context.Context, question string) (llm.ChatInput, error) {
	var in llm.ChatInput

	snapshot, err := o.profile.ChatContext(ctx)
	if err != nil {
		return in, fmt.Errorf("loading profile: %w", err)
	}
	in.Snapshot = *snapshot

	recent, err := o.chats.ListExchanges(ctx, o.opts.RecentMessages)
	if err != nil {
		return in, fmt.Errorf("loading recent messages: %w", err)
	}
	for _, ex := range recent {
		in.RecentMessages = append(in.RecentMessages, llm.ChatMessage{Question: ex.Message, Answer: ex.Response})
	}

	in.Retrieved = o.retrieve(ctx, question)
	return in, nil
}

// retrieve returns reference context, or "" when retrieval is unavailable.
// Retrieval problems never fail the question.
func (o *Orchestrator) retrieve(ctx context.Context, question string) string {
	if o.retriever == nil {
		return ""
	}
	has, err := o.retriever.HasDocuments(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("listing reference documents failed, answering without retrieval")
		return ""
	}
	if !has {
		return ""
	}
	text, err := o.retriever.ContextForQuery(ctx, question)
	if err != nil {
		if !errors.Is(err, rag.ErrDisabled) {
			o.log.Warn().Err(err).Msg("retrieval failed, answering without reference material")
		}
		return ""
	}
	return text
}

// History returns the most recent exchanges, oldest first. A non-positive
// limit uses DefaultHistoryLimit.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]*domain.ChatExchange, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	exchanges, err := o.chats.ListExchanges(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return exchanges, nil
}
