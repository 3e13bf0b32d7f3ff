package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/linnemanlabs/go-core/log"
)

var errEmptyResponse = errors.New("empty response")

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Guarded wraps a Provider with a timeout and a circuit breaker. Every
// failure, including an empty response, is reported as ErrUnavailable.
type Guarded struct {
	p       Provider
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics *Metrics
	logger  log.Logger
}

// GuardOption configures Guard.
type GuardOption func(*Guarded)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMetrics records call outcomes.
func WithMetrics(m *Metrics) GuardOption {
	return func(g *Guarded) { g.metrics = m }
}

// WithLogger logs breaker state changes.
func WithLogger(l log.Logger) GuardOption {
	return func(g *Guarded) { g.logger = l }
}

// Guard wraps p.
func Guard(p Provider, opts ...GuardOption) *Guarded {
	g := &Guarded{p: p, timeout: DefaultTimeout, logger: log.Nop()}
	for _, o := range opts {
		o(g)
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + p.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn(context.Background(), "llm circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			g.metrics.breakerState(p.Name(), to)
		},
	})
	return g
}

// Name implements Provider.
func (g *Guarded) Name() string { return g.p.Name() }

// DefaultModel implements Provider.
func (g *Guarded) DefaultModel() string { return g.p.DefaultModel() }

// Available reports whether the provider is configured and its breaker is
// not open.
func (g *Guarded) Available() bool {
	return g.p.Available() && g.cb.State() != gobreaker.StateOpen
}

// Models delegates to the wrapped provider if it lists models.
func (g *Guarded) Models(ctx context.Context) ([]string, error) {
	if ml, ok := g.p.(ModelLister); ok {
		return ml.Models(ctx)
	}
	return nil, nil
}

// Generate implements Provider.
func (g *Guarded) Generate(ctx context.Context, req *Request) (*Response, error) {
	if !g.p.Available() {
		return nil, fmt.Errorf("%w: %s is not configured", ErrUnavailable, g.p.Name())
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := g.cb.Execute(func() (any, error) {
		resp, err := g.p.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(resp.Text) == "" {
			return nil, errEmptyResponse
		}
		return resp, nil
	})
	dur := time.Since(start)

	if err != nil {
		g.metrics.call(g.p.Name(), "error", dur, nil)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, g.p.Name(), err)
	}
	resp := out.(*Response)
	g.metrics.call(g.p.Name(), "ok", dur, &resp.Usage)
	return resp, nil
}

// Metrics holds Prometheus metrics for provider calls.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Tokens   *prometheus.CounterVec
	Breaker  *prometheus.GaugeVec
}

// NewMetrics registers and returns provider call metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_llm_requests_total",
			Help: "Narrative provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aitriage_llm_request_duration_seconds",
			Help:    "Duration of narrative provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms .. ~51s
		}, []string{"provider"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_llm_tokens_total",
			Help: "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),
		Breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aitriage_llm_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.Tokens, m.Breaker)
	return m
}

func (m *Metrics) call(provider, outcome string, dur time.Duration, u *Usage) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(provider, outcome).Inc()
	m.Duration.WithLabelValues(provider).Observe(dur.Seconds())
	if u != nil {
		m.Tokens.WithLabelValues(provider, "input").Add(float64(u.InputTokens))
		m.Tokens.WithLabelValues(provider, "output").Add(float64(u.OutputTokens))
	}
}

func (m *Metrics) breakerState(provider string, s gobreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch s {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.Breaker.WithLabelValues(provider).Set(v)
}
