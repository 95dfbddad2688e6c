// Package gemini implements llm.Provider on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/user/conserje/pkg/llm"
)

// DefaultModel is used when the config leaves Model empty.
const DefaultModel = "gemini-2.0-flash"

// Client implements llm.Provider for the Gemini API.
type Client struct {
	client *genai.Client
	config *llm.Config
}

// New creates a Gemini client. BaseURL, when set, overrides the API endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	return &Client{client: client, config: config}, nil
}

// Complete sends the conversation to GenerateContent. System messages become
// the system instruction; assistant messages are sent with the model role.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts *llm.Options) (*llm.Response, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, img := range msg.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		cfg.Temperature = &temp
	}
	maxTokens := c.config.MaxTokens
	if opts != nil && opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if opts != nil && opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned no text")
	}

	out := &llm.Response{Content: text}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}
