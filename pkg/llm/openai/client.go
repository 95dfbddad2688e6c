package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/conserje/pkg/llm"
)

// DefaultBaseURL is used when the config leaves BaseURL empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 2048

// ErrEmptyCompletion is returned when the API answers without any choice.
var ErrEmptyCompletion = errors.New("completion has no choices")

// APIError is a non-200 answer from the chat completions endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("openai: %s (status %d, %s)", e.Message, e.StatusCode, e.Type)
	}
	return fmt.Sprintf("openai: %s (status %d)", e.Message, e.StatusCode)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to any OpenAI-compatible /chat/completions endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float32
	http        *http.Client
}

// New returns a client for cfg. A zero timeout means 60s.
func New(cfg *llm.Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:    strings.TrimRight(base, "/") + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		http:        &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// wireMessage carries Content as a string, or as a list of parts when the
// message has images.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imagePtr `json:"image_url,omitempty"`
}

type imagePtr struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func encodeMessage(m llm.Message) wireMessage {
	if len(m.Images) == 0 {
		return wireMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]part, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, part{Type: "text", Text: m.Content})
	}
	for _, img := range m.Images {
		parts = append(parts, part{Type: "image_url", ImageURL: &imagePtr{URL: dataURL(img)}})
	}
	return wireMessage{Role: m.Role, Content: parts}
}

func dataURL(img llm.Image) string {
	mime := img.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func (c *Client) buildRequest(messages []llm.Message, opts *llm.Options) chatRequest {
	req := chatRequest{
		Model:     c.model,
		Messages:  make([]wireMessage, 0, len(messages)),
		MaxTokens: c.maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, encodeMessage(m))
	}
	if c.temperature != 0 {
		t := c.temperature
		req.Temperature = &t
	}
	if opts != nil {
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
		if opts.JSON {
			req.ResponseFormat = &responseFormat{Type: "json_object"}
		}
	}
	return req
}

// Complete sends one chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts *llm.Options) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequest(messages, opts))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	first := out.Choices[0]
	if first.FinishReason == "content_filter" {
		return nil, fmt.Errorf("completion blocked by content filter")
	}
	return &llm.Response{
		Content: first.Message.Content,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
		if env.Error.Code != nil {
			apiErr.Code = fmt.Sprint(env.Error.Code)
		}
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
