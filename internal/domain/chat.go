package domain

import (
	"encoding/json"
	"time"
)

// ChatExchange is one question/answer pair with the literal context sent to
// the model. Exchanges are append-only.
type ChatExchange struct {
	ID          string          `json:"id"`
	Message     string          `json:"message"`
	Response    string          `json:"response"`
	ContextUsed json.RawMessage `json:"context_used"`
	Timestamp   time.Time       `json:"timestamp"`
}
