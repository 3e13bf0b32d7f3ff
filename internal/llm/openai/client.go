// Package openai implements llm.Provider on the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/aitriage/internal/llm"
)

const (
	// DefaultModel is used when no model is configured or requested.
	DefaultModel = "gpt-4o-mini"

	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

var errNoChoices = errors.New("response has no choices")

// preferredModels is returned when the models endpoint cannot be read, and
// orders the chat-capable models it does return.
var preferredModels = []string{
	"gpt-4.1-mini",
	"gpt-4.1",
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-4-turbo",
	"gpt-4",
}

// Client implements llm.Provider for the OpenAI API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	sdk     openai.Client
}

// New creates a client. baseURL is the API root of any OpenAI-compatible
// server; "/v1" is appended when missing and an empty value uses
// DefaultBaseURL. An empty model uses DefaultModel. Extra request options
// are passed through to the SDK.
func New(apiKey, model, baseURL string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	baseURL = apiRoot(baseURL)
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		sdk:     openai.NewClient(append(base, opts...)...),
	}
}

func apiRoot(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/v1") {
		raw += "/v1"
	}
	return raw
}

// Name implements llm.Provider.
func (c *Client) Name() string { return llm.ProviderOpenAI }

// DefaultModel implements llm.Provider.
func (c *Client) DefaultModel() string { return c.model }

// Available implements llm.Provider.
func (c *Client) Available() bool { return c.apiKey != "" }

// Generate sends a system and user turn and returns the first choice.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params := toSDKParams(req, c.model)
	out, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api: %w", err)
	}
	return fromSDKResponse(out, params.Model)
}

func toSDKParams(req *llm.Request, defaultModel string) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return p
}

// fromSDKResponse takes the first choice. The requested model is reported
// when the server omits one.
func fromSDKResponse(out *openai.ChatCompletion, requested openai.ChatModel) (*llm.Response, error) {
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai api: %w", errNoChoices)
	}
	model := out.Model
	if model == "" {
		model = string(requested)
	}
	return &llm.Response{
		Text:     strings.TrimSpace(out.Choices[0].Message.Content),
		Provider: llm.ProviderOpenAI,
		Model:    model,
		Usage: llm.Usage{
			InputTokens:  int(out.Usage.PromptTokens),
			OutputTokens: int(out.Usage.CompletionTokens),
		},
	}, nil
}

// Models implements llm.ModelLister. Chat models reported by the API are
// returned preferred-first; any failure falls back to the curated list.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	fallback := slices.Clone(preferredModels)
	if !c.Available() {
		return fallback, nil
	}

	have := make(map[string]bool)
	iter := c.sdk.Models.ListAutoPaging(ctx)
	for iter.Next() {
		if id := iter.Current().ID; strings.HasPrefix(id, "gpt-") {
			have[id] = true
		}
	}
	if err := iter.Err(); err != nil || len(have) == 0 {
		return fallback, nil //nolint:nilerr // listing degrades to the curated set
	}
	return orderModels(have), nil
}

// orderModels lists preferred models first, then the rest sorted.
func orderModels(have map[string]bool) []string {
	models := make([]string, 0, len(have))
	for _, id := range preferredModels {
		if have[id] {
			models = append(models, id)
		}
	}
	rest := make([]string, 0, len(have))
	for id := range have {
		if !slices.Contains(preferredModels, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(models, rest...)
}
