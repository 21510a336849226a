package llm

import (
	"context"
	"errors"
	"time"

	"github.com/invopop/jsonschema"
)

// Sentinel errors for failure classification at call sites.
var (
	// ErrTimeout indicates no response arrived within the configured window.
	ErrTimeout = errors.New("llm request timed out")
	// ErrMalformedOutput indicates the model returned text that failed to
	// parse against the expected structure. Callers recover with a typed
	// empty fallback; this never crashes the pipeline.
	ErrMalformedOutput = errors.New("llm output failed to parse")
)

// Client is the single gateway to the model backend. All pipeline stages
// go through it so that timeout, retry, and usage accounting live in one
// place.
type Client interface {
	// Chat sends a prompt with a structured output schema and unmarshals
	// the response into result.
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	// Complete sends a prompt and returns plain text.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64      // nil = model default, explicit 0 = deterministic
	Timeout      time.Duration // 0 = client default
}

type Response struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage accumulates across every model call in a run; never reset mid-run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string

	// Timeout bounds each attempt; default 120s.
	Timeout time.Duration
	// RetryAttempts is the total attempt budget for retryable failures; default 2.
	RetryAttempts int
	// RetryDelay is the linear backoff base (delay × attempt index); default 300ms.
	RetryDelay time.Duration
}

func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func Temp(t float64) *float64 {
	return &t
}
