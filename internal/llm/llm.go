// Package llm defines the narrative provider boundary: the Provider
// interface, request/response types, provider selection and the guard that
// bounds every provider call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when no provider can serve a request, or a
// provider call failed for any reason.
var ErrUnavailable = errors.New("narrative provider unavailable")

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultTemperature keeps narratives close to the supplied facts.
const DefaultTemperature = 0.2

// Request is a single-turn generation request.
type Request struct {
	System      string
	Prompt      string
	Model       string // empty uses the provider default
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Response is generated text and where it came from.
type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Provider is the interface for any narrative backend.
type Provider interface {
	Name() string
	DefaultModel() string

	// Available reports whether the provider is configured.
	Available() bool

	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ModelLister is implemented by providers that can enumerate models.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// Mode selects how a report obtains its narrative.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeOff       Mode = "off"
	ModeOpenAI    Mode = Mode(ProviderOpenAI)
	ModeAnthropic Mode = Mode(ProviderAnthropic)
)

// ParseMode parses a mode. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeOff, ModeOpenAI, ModeAnthropic:
		return m, nil
	default:
		return "", fmt.Errorf("invalid llm mode %q (want auto, off, openai or anthropic)", s)
	}
}
