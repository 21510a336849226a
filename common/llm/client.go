package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"copyforge.app/pipeline/common/text"
)

const (
	defaultTimeout       = 120 * time.Second
	defaultRetryAttempts = 2
	defaultRetryDelay    = 300 * time.Millisecond
	defaultMaxTokens     = 4000
)

type client struct {
	openai     openai.Client
	model      string
	embedModel string

	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration

	// sleep is swapped out in tests so retry backoff doesn't slow the suite.
	sleep func(time.Duration)
}

func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The SDK retries on its own by default; the gateway owns retry policy.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	c := &client{
		openai:        openai.NewClient(opts...),
		model:         model,
		embedModel:    embedModel,
		timeout:       cfg.Timeout,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		sleep:         time.Sleep,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.retryAttempts <= 0 {
		c.retryAttempts = defaultRetryAttempts
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	return c, nil
}

func (c *client) Model() string {
	return c.model
}

func (c *client) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	resp, err := c.complete(ctx, req, true)
	if err != nil {
		return nil, err
	}

	content := text.StripFences(resp.Text)
	if err := json.Unmarshal([]byte(content), result); err != nil {
		slog.WarnContext(ctx, "llm structured output failed to parse",
			"model", c.model,
			"schema", req.SchemaName,
			"error", err)
		return resp, fmt.Errorf("unmarshal %s response: %w", req.SchemaName, ErrMalformedOutput)
	}
	return resp, nil
}

func (c *client) Complete(ctx context.Context, req Request) (*Response, error) {
	return c.complete(ctx, req, false)
}

func (c *client) complete(ctx context.Context, req Request, structured bool) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if structured {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.SchemaName,
					Description: openai.String("Structured response schema"),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff: delay × attempt index of the failed attempt.
			c.sleep(c.retryDelay * time.Duration(attempt-1))
		}

		resp, err := c.attempt(ctx, params, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(ctx, err) {
			return nil, err
		}
		slog.WarnContext(ctx, "llm request retry",
			"model", c.model,
			"attempt", attempt,
			"error", err)
	}
	return nil, fmt.Errorf("llm request after %d attempts: %w", c.retryAttempts, lastErr)
}

func (c *client) attempt(ctx context.Context, params openai.ChatCompletionNewParams, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(attemptCtx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("no response within %s: %w", timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &Response{
		Text: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.openai.Embeddings.New(embedCtx, openai.EmbeddingNewParams{
		Model: c.embedModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	vectors := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

// IsRetryable classifies backend-overload failures that warrant a retry.
// Only HTTP 503, "UNAVAILABLE", and "overloaded" responses qualify;
// everything else propagates immediately.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 503 {
		slog.WarnContext(ctx, "llm backend unavailable, will retry",
			"status_code", apiErr.StatusCode)
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNAVAILABLE") || strings.Contains(strings.ToLower(msg), "overloaded") {
		slog.WarnContext(ctx, "llm backend overloaded, will retry", "error", err)
		return true
	}
	return false
}
