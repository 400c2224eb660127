package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

var _ ChatClient = (*OpenAIClient)(nil)

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
		slog.Info("Using custom OpenAI base URL", "base_url", config.BaseURL)
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		limiter: limiterFromEnv("OPENAI_RPS"),
	}, nil
}

// Name implements the ChatClient interface.
func (o *OpenAIClient) Name() string { return "openai" }

// Chat implements the ChatClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, system, user string, opts ...ChatOption) (*ChatResponse, error) {
	options := applyChatOptions(opts...)

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	slog.Debug("Generating text via OpenAI", "model", o.model)
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: user,
	})

	req := openai.ChatCompletionRequest{
		Model:               o.model,
		Messages:            messages,
		Temperature:         options.temperature,
		MaxCompletionTokens: options.maxTokens,
	}
	if len(options.stop) > 0 {
		req.Stop = options.stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, ClassifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("OpenAI returned no choices or empty content")
		return nil, ErrEmptyResponse
	}

	text := resp.Choices[0].Message.Content
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = EstimateTokens(system) + EstimateTokens(user) + EstimateTokens(text)
	}

	slog.Debug("Received response from OpenAI",
		"finish_reason", resp.Choices[0].FinishReason, "tokens_used", tokens)
	return &ChatResponse{Text: text, TokensUsed: tokens}, nil
}

// ClassifyOpenAIError maps go-openai errors onto this package's sentinels.
// Shared with the embedding provider, which talks to the same API.
func ClassifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		// Zero-balance accounts surface as 429 with an insufficient_quota
		// code, which must not be retried.
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		}
		return Classify(apiErr.HTTPStatusCode, nil)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return Classify(reqErr.HTTPStatusCode, nil)
	}

	return Classify(0, err)
}

// limiterFromEnv builds a client-side request limiter from an RPS env var.
// Unset, zero, or unparsable values disable limiting.
func limiterFromEnv(envKey string) *rate.Limiter {
	raw := os.Getenv(envKey)
	if raw == "" {
		return nil
	}
	rps, err := strconv.ParseFloat(raw, 64)
	if err != nil || rps <= 0 {
		slog.Warn("Ignoring invalid rate limit setting", "env", envKey, "value", raw)
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
