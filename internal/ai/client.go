package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"horse.fit/storymerge/internal/dedup"
)

const (
	// DefaultModel is used when AI_MODEL is blank.
	DefaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Client generates text through an OpenAI-compatible chat completions
// endpoint. It satisfies dedup.Generator.
type Client struct {
	endpointURL string
	model       string
	apiKey      string
	client      *http.Client
}

type Options struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

func NewClient(opts Options) (*Client, error) {
	endpoint := normalizeEndpoint(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("AI endpoint is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpointURL: chatCompletionsURL(endpoint),
		model:       model,
		apiKey:      strings.TrimSpace(opts.APIKey),
		client:      httpClient,
	}, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	if c == nil {
		return ""
	}
	return c.model
}

func (c *Client) Generate(ctx context.Context, prompt string, opts dedup.GenerateOptions) (dedup.Generation, error) {
	if c == nil {
		return dedup.Generation{}, fmt.Errorf("ai client is nil")
	}
	if strings.TrimSpace(prompt) == "" {
		return dedup.Generation{}, fmt.Errorf("prompt is required")
	}

	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONResponse {
		request.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(request)
	if err != nil {
		return dedup.Generation{}, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return dedup.Generation{}, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return dedup.Generation{}, fmt.Errorf("send generation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return dedup.Generation{}, fmt.Errorf("read generation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload chatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return dedup.Generation{}, fmt.Errorf("generation endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return dedup.Generation{}, fmt.Errorf("generation endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return dedup.Generation{}, fmt.Errorf("decode generation response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return dedup.Generation{}, fmt.Errorf("generation response missing choices")
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return dedup.Generation{}, fmt.Errorf("generation response was empty")
	}
	return dedup.Generation{Text: text, Usage: parsed.Usage}, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage dedup.Usage `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeEndpoint(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// chatCompletionsURL accepts a base URL, a /v1 URL or the full path.
func chatCompletionsURL(endpoint string) string {
	switch {
	case strings.HasSuffix(endpoint, "/chat/completions"):
		return endpoint
	case strings.HasSuffix(endpoint, "/v1"):
		return endpoint + "/chat/completions"
	default:
		return endpoint + "/v1/chat/completions"
	}
}
