// Package claude implements llm.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/aitriage/internal/llm"
)

// DefaultModel is used when no model is configured or requested.
const DefaultModel = "claude-sonnet-4-5-20250929"

// DefaultMaxTokens caps narrative length.
const DefaultMaxTokens = 900

// knownModels is the curated list served by Models; the API offers no
// listing we rely on.
var knownModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-haiku-4-5-20251001",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
	"claude-3-5-sonnet-latest",
	"claude-3-5-haiku-latest",
}

// Client implements llm.Provider for the Claude API.
type Client struct {
	apiKey string
	model  string
	sdk    anthropic.Client
}

// New creates a Claude client. An empty apiKey yields an unavailable
// client; an empty model uses DefaultModel. Extra request options (base
// URL, HTTP client) are passed through to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		sdk:    anthropic.NewClient(append(base, opts...)...),
	}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return llm.ProviderAnthropic }

// DefaultModel implements llm.Provider.
func (c *Client) DefaultModel() string { return c.model }

// Available implements llm.Provider.
func (c *Client) Available() bool { return c.apiKey != "" }

// Models implements llm.ModelLister.
func (c *Client) Models(context.Context) ([]string, error) {
	out := make([]string, len(knownModels))
	copy(out, knownModels)
	return out, nil
}

// Generate sends a single user turn and returns the text of the reply.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	msg, err := c.sdk.Messages.New(ctx, toSDKParams(req, c.model))
	if err != nil {
		return nil, fmt.Errorf("claude api: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func toSDKParams(req *llm.Request, defaultModel string) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return p
}

// fromSDKResponse joins the text blocks of msg.
func fromSDKResponse(msg *anthropic.Message) *llm.Response {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return &llm.Response{
		Text:     strings.Join(parts, "\n"),
		Provider: llm.ProviderAnthropic,
		Model:    string(msg.Model),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
