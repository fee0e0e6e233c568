package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultTimeout  = 120 * time.Second
)

// OpenRouter calls an OpenAI-compatible chat completion endpoint
type OpenRouter struct {
	endpoint    string
	apiKey      string
	title       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// OpenRouterOption configures an OpenRouter client
type OpenRouterOption func(*OpenRouter)

// WithEndpoint overrides the completion URL
func WithEndpoint(url string) OpenRouterOption {
	return func(o *OpenRouter) {
		o.endpoint = url
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) OpenRouterOption {
	return func(o *OpenRouter) {
		o.client = c
	}
}

// WithSampling sets temperature and the completion token cap
func WithSampling(temperature float64, maxTokens int) OpenRouterOption {
	return func(o *OpenRouter) {
		o.temperature = temperature
		o.maxTokens = maxTokens
	}
}

// WithTitle sets the X-Title header
func WithTitle(title string) OpenRouterOption {
	return func(o *OpenRouter) {
		o.title = title
	}
}

// NewOpenRouter creates a client with a 120s timeout
func NewOpenRouter(apiKey string, opts ...OpenRouterOption) *OpenRouter {
	o := &OpenRouter{
		endpoint:    DefaultEndpoint,
		apiKey:      strings.TrimSpace(apiKey),
		title:       "swarm",
		temperature: 0.7,
		maxTokens:   4096,
		client:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the system prompt, context and user prompt as one chat
func (o *OpenRouter) Generate(ctx context.Context, req Request) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("%w: API key is empty", ErrUnauthorized)
	}

	messages := make([]Message, 0, len(req.Context)+2)
	messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	messages = append(messages, req.Context...)
	messages = append(messages, Message{Role: "user", Content: req.UserPrompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("X-Title", o.title)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Status: resp.StatusCode, Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", fmt.Errorf("%w: 401 Unauthorized: invalid or expired API key", ErrUnauthorized)
	case http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: 429 too many requests", ErrRateLimited)
	case http.StatusPaymentRequired:
		return "", &ProviderError{Status: resp.StatusCode, Message: "payment required: insufficient credits"}
	default:
		return "", &ProviderError{Status: resp.StatusCode, Message: providerMessage(raw)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &ProviderError{Status: resp.StatusCode, Message: "invalid response: " + err.Error()}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Status: resp.StatusCode, Message: "response has no choices"}
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", &ProviderError{Status: resp.StatusCode, Message: "empty response"}
	}
	return content, nil
}

func providerMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	s := string(raw)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
