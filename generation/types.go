package generation

import (
	"time"

	"gen_backend/prompt"
)

// Options are the per-request processing switches.
type Options struct {
	prompt.Options
	AutoPublic bool `json:"autoPublic,omitempty"`
}

// Request is one generation request. Zero Guidance uses the configured
// default; zero Timeout uses the queue default.
type Request struct {
	RequestID string        `json:"requestId,omitempty" validate:"omitempty,max=64,printascii,excludesall=*?[]/\\"`
	Prompt    string        `json:"prompt" validate:"notblank,max=4000"`
	Providers []string      `json:"providers" validate:"required,min=1,max=8,dive,required,known_provider"`
	Guidance  int           `json:"guidance" validate:"min=1,max=20"`
	UserID    string        `json:"userId,omitempty"`
	Options   Options       `json:"options"`
	Priority  string        `json:"priority,omitempty" validate:"omitempty,oneof=normal high"`
	Timeout   time.Duration `json:"-"`
}

// ResultContext is shared by every result of one request.
type ResultContext struct {
	Prompt     string
	Original   string
	PromptID   string
	RequestID  string
	UserID     *string
	AutoPublic bool
}

// ProcessedResult is the outcome of persisting one provider result.
type ProcessedResult struct {
	Provider string     `json:"provider"`
	Success  bool       `json:"success"`
	ImageID  int64      `json:"imageId,omitempty"`
	ImageURL string     `json:"imageUrl,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
	TaggedAt *time.Time `json:"taggedAt,omitempty"`
	Error    string     `json:"error,omitempty"`
	// Debug carries the underlying error when debug output is enabled.
	Debug string `json:"debug,omitempty"`

	err error
}

// Response is what Generate returns. It is always populated; callers never
// need to handle a Go error at this boundary.
type Response struct {
	Success      bool              `json:"success"`
	RequestID    string            `json:"requestId"`
	Results      []ProcessedResult `json:"results,omitempty"`
	DurationMS   int64             `json:"durationMs"`
	Error        string            `json:"error,omitempty"`
	Code         string            `json:"code,omitempty"`
	RetryAfterMS int64             `json:"retryAfterMs,omitempty"`
	Debug        string            `json:"debug,omitempty"`
}
