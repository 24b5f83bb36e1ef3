package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// Options configure timeouts, retries and client-side throttling.
type Options struct {
	Timeout             time.Duration
	MaxRateLimitRetries int
	RateLimitBackoff    time.Duration
	MaxBackoff          time.Duration
	RequestsPerSecond   float64
	Burst               int
}

const (
	DefaultTimeout             = 120 * time.Second
	DefaultMaxRateLimitRetries = 3
	DefaultRateLimitBackoff    = time.Second
	DefaultMaxBackoff          = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRateLimitRetries < 0 {
		o.MaxRateLimitRetries = 0
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	return o
}

// Gateway wraps a Provider with redaction, prompt templates, retry policy and
// schema validation.
type Gateway struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway. A zero RequestsPerSecond disables throttling.
func NewGateway(p Provider, opts Options, log zerolog.Logger) *Gateway {
	opts = opts.withDefaults()

	limit := rate.Inf
	burst := opts.Burst
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Gateway{
		provider: p,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log.With().Str("provider", p.Name()).Str("model", p.Model()).Logger(),
		sleep:    sleepContext,
	}
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider { return g.provider }

// ExtractStructured asks the model for a structured analysis of a document.
func (g *Gateway) ExtractStructured(ctx context.Context, text string, docType domain.DocumentType) (*domain.StructuredAnalysis, error) {
	prompt := Prompt{
		System: AnalysisSystemPrompt,
		User:   ExtractionPrompt(docType, Redact(text)),
	}

	raw, err := g.call(ctx, "extract_structured", func(ctx context.Context) (string, error) {
		return g.provider.ExtractStructured(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("ExtractStructured: %w", err)
	}

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		g.log.Warn().Err(err).Int("output_chars", len(raw)).Msg("model output failed schema validation")
		return nil, fmt.Errorf("ExtractStructured: %w", err)
	}
	return analysis, nil
}

// Answer asks the model a question grounded in the given chat input.
func (g *Gateway) Answer(ctx context.Context, question string, in ChatInput) (string, error) {
	in.Retrieved = Redact(in.Retrieved)
	msgs := make([]ChatMessage, len(in.RecentMessages))
	for i, m := range in.RecentMessages {
		msgs[i] = ChatMessage{Question: Redact(m.Question), Answer: Redact(m.Answer)}
	}
	in.RecentMessages = msgs
	prompt := Prompt{
		System: ChatSystemPrompt,
		User:   ChatPrompt(in, Redact(question)),
	}

	out, err := g.call(ctx, "answer", func(ctx context.Context) (string, error) {
		return g.provider.Answer(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("Answer: %w", err)
	}
	return out, nil
}

// call runs fn with a per-attempt timeout. Timeouts are retried once and rate
// limits up to MaxRateLimitRetries times with exponential backoff. Auth and
// other failures are returned immediately.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	timeoutRetried := false
	rateLimitRetries := 0
	backoff := g.opts.RateLimitBackoff

	for attempt := 1; ; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		out, err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			g.log.Debug().Str("op", op).Int("attempt", attempt).Dur("duration", time.Since(start)).Msg("provider call succeeded")
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if timedOut && !errors.Is(err, ErrProviderTimeout) {
			err = &ProviderError{Provider: g.provider.Name(), Kind: ErrProviderTimeout, Err: err}
		}

		switch {
		case errors.Is(err, ErrProviderTimeout):
			if timeoutRetried {
				return "", err
			}
			timeoutRetried = true
			g.log.Warn().Str("op", op).Int("attempt", attempt).Msg("provider timed out, retrying once")

		case errors.Is(err, ErrProviderRateLimited):
			if rateLimitRetries >= g.opts.MaxRateLimitRetries {
				return "", err
			}
			rateLimitRetries++
			wait := backoff
			var pe *ProviderError
			if errors.As(err, &pe) && pe.RetryAfter > wait {
				wait = pe.RetryAfter
			}
			if wait > g.opts.MaxBackoff {
				wait = g.opts.MaxBackoff
			}
			g.log.Warn().Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("provider rate limited, backing off")
			if err := g.sleep(ctx, wait); err != nil {
				return "", err
			}
			backoff *= 2

		default:
			return "", err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
