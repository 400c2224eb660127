package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiAPIVersion     = "v1beta"
)

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	Error         *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// --- Client Implementation ---

type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *rate.Limiter
}

var _ ChatClient = (*GeminiClient)(nil)

func NewGeminiClient() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	model := os.Getenv("GEMINI_MODEL")

	if apiKey == "" {
		secretPath := "/run/secrets/gemini_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Gemini API Key from Podman Secrets")
		}
	}

	if apiKey == "" {
		slog.Warn("Gemini API Key is missing.")
		return nil, fmt.Errorf("GEMINI_API_KEY is missing")
	}

	if model == "" {
		model = "gemini-2.0-flash"
		slog.Info("GEMINI_MODEL not set, defaulting to", "model", model)
	}

	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &GeminiClient{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		limiter:    limiterFromEnv("GEMINI_RPS"),
	}, nil
}

// Name implements the ChatClient interface.
func (g *GeminiClient) Name() string { return "gemini" }

// Chat implements the ChatClient interface.
func (g *GeminiClient) Chat(ctx context.Context, system, user string, opts ...ChatOption) (*ChatResponse, error) {
	options := applyChatOptions(opts...)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	// Build Payload
	reqPayload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: user}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     &options.temperature,
			MaxOutputTokens: options.maxTokens,
			StopSequences:   options.stop,
		},
	}
	if system != "" {
		reqPayload.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", g.baseURL, geminiAPIVersion, g.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-goog-api-key", g.apiKey)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Gemini", "model", g.model)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Error("Gemini API call failed", "error", err)
		return nil, Classify(0, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.Error("Gemini returned an error", "status_code", resp.StatusCode,
			"body_snippet", snippet(bodyBytes))
		return nil, Classify(resp.StatusCode, nil)
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("gemini API error: %s - %s", apiResp.Error.Status, apiResp.Error.Message)
	}

	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates from Gemini", ErrEmptyResponse)
	}

	finalText := ""
	for _, part := range apiResp.Candidates[0].Content.Parts {
		finalText += part.Text
	}

	if finalText == "" {
		return nil, fmt.Errorf("%w: candidate had no text parts", ErrEmptyResponse)
	}

	tokens := 0
	if apiResp.UsageMetadata != nil {
		tokens = apiResp.UsageMetadata.TotalTokenCount
	}
	if tokens == 0 {
		tokens = EstimateTokens(system) + EstimateTokens(user) + EstimateTokens(finalText)
	}

	slog.Debug("Received response from Gemini",
		"finish_reason", apiResp.Candidates[0].FinishReason, "tokens_used", tokens)
	return &ChatResponse{Text: finalText, TokensUsed: tokens}, nil
}

// snippet truncates a response body for log output.
func snippet(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
