// Package extract turns uploaded document bytes into plain text by trying an
// ordered list of strategies until one yields usable text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	DefaultMinTextLength     = 20
	DefaultMinPrintableRatio = 0.85
)

var (
	// ErrExtraction is the sentinel wrapped by every ExtractionError.
	ErrExtraction = errors.New("no strategy produced usable text")
	// ErrGarbage marks text that was returned but failed the quality check.
	ErrGarbage = errors.New("extracted text is empty or garbage")
	// ErrUnsupported is returned by a strategy that cannot read the input format.
	ErrUnsupported = errors.New("unsupported input format")
)

// Strategy is one way of getting text out of a document.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, data []byte) (string, error)
}

// Attempt records why a single strategy did not win.
type Attempt struct {
	Strategy string
	Err      error
}

// ExtractionError is returned when every strategy failed.
type ExtractionError struct {
	Attempts []Attempt
}

func (e *ExtractionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	if len(parts) == 0 {
		return "extraction failed: no strategies configured"
	}
	return "extraction failed: " + strings.Join(parts, "; ")
}

func (e *ExtractionError) Unwrap() error { return ErrExtraction }

// Options tune the garbage check.
type Options struct {
	MinTextLength     int
	MinPrintableRatio float64
}

func (o Options) withDefaults() Options {
	if o.MinTextLength <= 0 {
		o.MinTextLength = DefaultMinTextLength
	}
	if o.MinPrintableRatio <= 0 {
		o.MinPrintableRatio = DefaultMinPrintableRatio
	}
	return o
}

// Extractor runs strategies in priority order.
type Extractor struct {
	strategies []Strategy
	opts       Options
	log        zerolog.Logger
}

// New creates an Extractor. Strategies are tried in the order given.
func New(log zerolog.Logger, opts Options, strategies ...Strategy) *Extractor {
	return &Extractor{
		strategies: strategies,
		opts:       opts.withDefaults(),
		log:        log,
	}
}

// Strategies returns the configured strategy names in priority order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract returns the text of the first strategy whose output passes the
// garbage check. A strategy that panics counts as a failed attempt.
func (e *Extractor) Extract(ctx context.Context, data []byte) (string, error) {
	var attempts []Attempt

	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("Extract: %w", err)
		}

		text, err := safeAttempt(ctx, s, data)
		if err == nil && IsGarbage(text, e.opts) {
			err = ErrGarbage
		}
		if err != nil {
			e.log.Debug().Str("strategy", s.Name()).Err(err).Msg("extraction strategy rejected")
			attempts = append(attempts, Attempt{Strategy: s.Name(), Err: err})
			continue
		}

		e.log.Debug().
			Str("strategy", s.Name()).
			Int("chars", len(text)).
			Int("fallbacks", len(attempts)).
			Msg("extraction succeeded")
		return text, nil
	}

	return "", &ExtractionError{Attempts: attempts}
}

func safeAttempt(ctx context.Context, s Strategy, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	text, err = s.Attempt(ctx, data)
	return strings.TrimSpace(text), err
}

// IsGarbage applies the minimum length and printable ratio thresholds.
func IsGarbage(text string, opts Options) bool {
	opts = opts.withDefaults()
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < opts.MinTextLength {
		return true
	}
	return PrintableRatio(text) < opts.MinPrintableRatio
}

// PrintableRatio is the share of runes that are printable or whitespace.
func PrintableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}
