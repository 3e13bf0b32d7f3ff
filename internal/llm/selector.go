package llm

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// DefaultWeight applies to providers without a configured weight.
const DefaultWeight = 1.0

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Name         string  `json:"name"`
	Available    bool    `json:"available"`
	Weight       float64 `json:"weight"`
	DefaultModel string  `json:"defaultModel"`
}

// Selector picks a provider for a mode. In auto mode it spreads requests
// across available providers in proportion to their weights using smooth
// weighted round robin, so the sequence of picks is fully determined by
// the weights and which providers are available.
type Selector struct {
	mu        sync.Mutex
	providers map[string]Provider
	order     []string // registration order, for stable iteration
	weights   map[string]float64
	current   map[string]float64
}

// NewSelector registers providers with the given weights. Providers missing
// from weights get DefaultWeight.
func NewSelector(providers []Provider, weights map[string]float64) *Selector {
	s := &Selector{
		providers: make(map[string]Provider, len(providers)),
		weights:   make(map[string]float64),
		current:   make(map[string]float64),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := s.providers[p.Name()]; !dup {
			s.order = append(s.order, p.Name())
		}
		s.providers[p.Name()] = p
	}
	s.setWeights(weights)
	return s
}

// Pick returns the provider for mode. Explicit modes return that provider
// if available. Off and an empty candidate set yield ErrUnavailable.
func (s *Selector) Pick(mode Mode) (Provider, error) {
	switch mode {
	case ModeOff:
		return nil, fmt.Errorf("%w: llm mode is off", ErrUnavailable)
	case ModeAuto, "":
		return s.pickWeighted()
	default:
		p, ok := s.providers[string(mode)]
		if !ok || !p.Available() {
			return nil, fmt.Errorf("%w: %s is not configured", ErrUnavailable, mode)
		}
		return p, nil
	}
}

func (s *Selector) pickWeighted() (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	var best string
	for _, name := range s.order {
		w := s.weights[name]
		if w <= 0 || !s.providers[name].Available() {
			continue
		}
		s.current[name] += w
		total += w
		if best == "" || s.current[name] > s.current[best] {
			best = name
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: no provider configured", ErrUnavailable)
	}
	s.current[best] -= total
	return s.providers[best], nil
}

// SetWeights replaces the weights and restarts the rotation. Names must be
// registered providers and weights must not be negative.
func (s *Selector) SetWeights(weights map[string]float64) error {
	for name, w := range weights {
		if _, ok := s.providers[name]; !ok {
			return fmt.Errorf("unknown provider %q", name)
		}
		if w < 0 || math.IsInf(w, 0) || math.IsNaN(w) {
			return fmt.Errorf("weight for %s must be a finite non-negative number", name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWeights(weights)
	return nil
}

func (s *Selector) setWeights(weights map[string]float64) {
	clear(s.weights)
	clear(s.current)
	for _, name := range s.order {
		w, ok := weights[name]
		if !ok {
			w = DefaultWeight
		}
		s.weights[name] = w
	}
}

// Weights returns a copy of the effective weights.
func (s *Selector) Weights() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.weights)
}

// Provider returns a registered provider by name.
func (s *Selector) Provider(name string) (Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Info lists registered providers in registration order.
func (s *Selector) Info() []ProviderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProviderInfo, 0, len(s.order))
	for _, name := range s.order {
		p := s.providers[name]
		out = append(out, ProviderInfo{
			Name:         name,
			Available:    p.Available(),
			Weight:       s.weights[name],
			DefaultModel: p.DefaultModel(),
		})
	}
	return out
}

// ParseWeights parses "openai:3,anthropic:1". Names are lowercased; blank
// parts are skipped.
func ParseWeights(raw string) (map[string]float64, error) {
	out := make(map[string]float64)
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, w, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("weight %q: want name:weight", part)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		v, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", part, err)
		}
		if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("weight %q: must be a finite non-negative number", part)
		}
		out[name] = v
	}
	return out, nil
}

// FormatWeights renders weights in ParseWeights syntax, sorted by name.
func FormatWeights(weights map[string]float64) string {
	names := slices.Sorted(maps.Keys(weights))
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+":"+strconv.FormatFloat(weights[n], 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}
