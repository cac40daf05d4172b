package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/supercoder/internal/domain"
)

var errEmptyResponse = errors.New("generation response contained no choices")

// keyRemediation is the user-facing guidance attached to fatal
// authentication failures.
const keyRemediation = "Invalid or missing OPENAI_API_KEY.\n" +
	"Fix your .env file and try again.\n" +
	"Example:\n" +
	"OPENAI_API_KEY=your_real_key_here"

// Config holds settings for the OpenAI-backed generator.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	RequestTimeout time.Duration
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		Model:          openai.GPT4oMini,
		Temperature:    0.4,
		RequestTimeout: 120 * time.Second,
	}
}

// OpenAIClient calls the OpenAI chat completions API. Construct one
// explicitly and pass it into the engine; there is no package-level
// cached client.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient builds a generator from the given config. The API
// key must be present; base URL, model, temperature and timeout fall
// back to defaults when zero.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, domain.FatalError(domain.FailureAuthentication, keyRemediation,
			errors.New("OPENAI_API_KEY is not set"))
	}

	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Model returns the configured chat model.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// Generate sends one system+user exchange and returns the raw
// response text. Every call carries a bounded deadline so a hung
// service cannot stall the session indefinitely.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	})
	if err != nil {
		return "", c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.RetryableError(domain.FailureGeneration, errEmptyResponse)
	}

	c.logger.Debug("generation call completed",
		"model", c.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return resp.Choices[0].Message.Content, nil
}

// classify maps a transport error onto the domain's failure classes
// using discrete status information from the response, never the
// error text. Authentication failures are fatal; everything else,
// including rate limits, server errors and timeouts, is retryable.
func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isAuthStatus(apiErr.HTTPStatusCode) || isAuthCode(apiErr.Code) {
			return domain.FatalError(domain.FailureAuthentication, keyRemediation,
				fmt.Errorf("generation service rejected credentials (HTTP %d): %w", apiErr.HTTPStatusCode, err))
		}
		return domain.RetryableError(domain.FailureGeneration,
			fmt.Errorf("generation service error (HTTP %d): %w", apiErr.HTTPStatusCode, err))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isAuthStatus(reqErr.HTTPStatusCode) {
			return domain.FatalError(domain.FailureAuthentication, keyRemediation,
				fmt.Errorf("generation request rejected (HTTP %d): %w", reqErr.HTTPStatusCode, err))
		}
		return domain.RetryableError(domain.FailureGeneration,
			fmt.Errorf("generation request failed (HTTP %d): %w", reqErr.HTTPStatusCode, err))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.RetryableError(domain.FailureGeneration,
			fmt.Errorf("generation call timed out after %s: %w", c.cfg.RequestTimeout, err))
	}

	return domain.RetryableError(domain.FailureGeneration,
		fmt.Errorf("generation transport error: %w", err))
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// isAuthCode matches the discrete API error codes OpenAI uses for key
// problems that can arrive with a non-auth HTTP status.
func isAuthCode(code any) bool {
	s, ok := code.(string)
	if !ok {
		return false
	}
	return s == "invalid_api_key" || s == "account_deactivated"
}
