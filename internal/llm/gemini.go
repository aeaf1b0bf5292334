package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"token-analyst/internal/observability"
	"token-analyst/internal/retry"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures a GeminiCompleter.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration // per attempt
	BaseURL         string        // overrides the API endpoint
}

// GeminiCompleter completes prompts with Google's Gemini API.
type GeminiCompleter struct {
	client  *genai.Client
	model   string
	config  *genai.GenerateContentConfig
	timeout time.Duration
	retrier *retry.Retrier
	logger  zerolog.Logger
}

// NewGemini creates a Gemini completer. r may be nil for a single attempt.
func NewGemini(ctx context.Context, cfg GeminiConfig, r *retry.Retrier) (*GeminiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 2048
	}
	if r == nil {
		r = retry.Once("llm")
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	gc := &genai.GenerateContentConfig{MaxOutputTokens: cfg.MaxOutputTokens}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(cfg.Temperature)
	}

	return &GeminiCompleter{
		client:  client,
		model:   cfg.Model,
		config:  gc,
		timeout: cfg.Timeout,
		retrier: r,
		logger:  log.With().Str("component", "llm").Str("model", cfg.Model).Logger(),
	}, nil
}

// Name returns the completer name.
func (g *GeminiCompleter) Name() string {
	return "gemini:" + g.model
}

// Complete sends prompt as a single user turn and returns the text reply.
func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	text, err := retry.Do(ctx, g.retrier, func(ctx context.Context) (string, error) {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
		if err != nil {
			return "", classify(err)
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", ErrEmptyCompletion
		}
		return text, nil
	})
	if err != nil {
		observability.RecordLLMCompletion("error")
		g.logger.Warn().Err(err).Msg("completion failed")
		return "", err
	}
	observability.RecordLLMCompletion("ok")
	return text, nil
}

// APIError is a Gemini API failure carrying its HTTP status so the retrier
// can classify it.
type APIError struct {
	Code    int
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.Code, e.Status, e.Message)
}

// StatusCode returns the HTTP status of the failure.
func (e *APIError) StatusCode() int { return e.Code }

// classify maps genai errors onto the retry taxonomy: 429 is a rate limit,
// other 4xx are fatal, everything else is transient.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}
