package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aitriage/internal/llm"
	"github.com/linnemanlabs/aitriage/internal/ratelimit"
	"github.com/linnemanlabs/aitriage/internal/reportcache"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

const tracerName = "github.com/linnemanlabs/aitriage/internal/report"

// maxNarrativeTokens caps report and chat completions.
const maxNarrativeTokens = 900

const reportSystemPrompt = "You are an expert SRE writing a concise situation report.\n" +
	"Be precise, avoid fluff, and do not invent metrics.\n" +
	"If saturation is high but latency/errors are normal, treat it as a capacity warning.\n"

const chatSystemPrompt = "You are an experienced SRE and incident commander.\n" +
	"Given the user's metrics, logs or deployment notes, decide whether there " +
	"is cause for concern and what concrete steps to take.\n" +
	"Be concise but specific. When saturation is high but latency/errors are " +
	"normal, treat it as a capacity warning rather than an outage.\n"

var (
	// ErrNoProvider is returned by Chat when no narrative provider can serve
	// the requested mode.
	ErrNoProvider = errors.New("no narrative provider is configured")

	// ErrNarrativeFailed is returned by Chat when the provider call failed.
	ErrNarrativeFailed = errors.New("narrative generation failed")
)

// RateLimitError is returned by Chat when the requester's quota is spent.
type RateLimitError struct {
	RetryAfter time.Duration
	Decision   ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Cache is the report cache used by the generator.
type Cache interface {
	Get(ctx context.Context, k reportcache.Key) (*reportcache.Entry, bool)
	Put(ctx context.Context, k reportcache.Key, e *reportcache.Entry)
}

// Limiter meters narrative-backed requests per identity.
type Limiter interface {
	CheckAndConsume(ctx context.Context, identity string) ratelimit.Decision
}

// Selector resolves an llm mode to a provider.
type Selector interface {
	Pick(mode llm.Mode) (llm.Provider, error)
}

// GeneratorDeps holds the collaborators of a Generator. Limiter and
// Selector are required.
type GeneratorDeps struct {
	Cache          Cache
	Limiter        Limiter
	Selector       Selector
	Metrics        *Metrics
	Logger         log.Logger
	TracerProvider trace.TracerProvider
}

// Generator produces reports and chat answers.
type Generator struct {
	cache    Cache
	limiter  Limiter
	selector Selector
	metrics  *Metrics
	logger   log.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewGenerator returns a Generator. A nil Cache disables caching.
func NewGenerator(d GeneratorDeps) *Generator {
	if d.Limiter == nil || d.Selector == nil {
		panic(xerrors.New("report generator requires a limiter and a selector"))
	}
	if d.Cache == nil {
		d.Cache = reportcache.New(nil, 0, nil, nil)
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if d.TracerProvider == nil {
		d.TracerProvider = otel.GetTracerProvider()
	}
	return &Generator{
		cache:    d.Cache,
		limiter:  d.Limiter,
		selector: d.Selector,
		metrics:  d.Metrics,
		logger:   d.Logger,
		tracer:   d.TracerProvider.Tracer(tracerName),
		now:      time.Now,
	}
}

// Request asks for one report.
type Request struct {
	Incident *triage.Incident
	Format   Format
	Mode     llm.Mode
	Model    string
	Identity string
}

// Result is a rendered report.
type Result struct {
	Body        []byte
	ContentType string
	Cached      bool
	Narrative   *Narrative

	// RateLimit is set whenever the limiter was consulted.
	RateLimit *ratelimit.Decision
}

// Report outcomes recorded in metrics and spans.
const (
	outcomeCacheHit      = "cache_hit"
	outcomeDeterministic = "deterministic"
	outcomeNarrative     = "narrative"
	outcomeUnavailable   = "fallback_unavailable"
	outcomeRateLimited   = "fallback_rate_limited"
	outcomeFailed        = "fallback_error"
)

// Generate returns the report for req. A cached body is returned as is and
// does not touch the limiter. On a miss the deterministic report is
// enriched with a narrative when a provider is available and the
// requester has quota; every other path falls back to the deterministic
// render. The only errors are invalid requests.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Incident == nil {
		return nil, errors.New("report request has no incident")
	}
	if req.Mode == "" {
		req.Mode = llm.ModeAuto
	}

	ctx, span := g.tracer.Start(ctx, "report.Generate", trace.WithAttributes(
		attribute.String("aitriage.incident.id", req.Incident.ID),
		attribute.String("aitriage.report.format", string(req.Format)),
		attribute.String("aitriage.llm.mode", string(req.Mode)),
	))
	defer span.End()

	start := g.now()
	key := reportcache.Key{
		IncidentID:  req.Incident.ID,
		ContentHash: ContentHash(req.Incident),
		Format:      string(req.Format),
		LLMMode:     string(req.Mode),
		Model:       req.Model,
	}

	if e, ok := g.cache.Get(ctx, key); ok {
		g.finish(span, req.Format, outcomeCacheHit, start)
		return &Result{Body: e.Body, ContentType: e.ContentType, Cached: true}, nil
	}

	rep := Build(req.Incident)
	res := &Result{ContentType: req.Format.ContentType()}
	outcome := outcomeDeterministic

	if req.Mode != llm.ModeOff {
		outcome = g.enrich(ctx, span, rep, req, res)
	}

	body, err := Render(rep, req.Format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res.Body = body
	res.Narrative = rep.Narrative

	// The write stands even if the caller goes away.
	g.cache.Put(context.WithoutCancel(ctx), key, &reportcache.Entry{
		Body:        body,
		ContentType: res.ContentType,
		CreatedAt:   g.now().UTC(),
	})
	g.finish(span, req.Format, outcome, start)
	return res, nil
}

// enrich attaches a narrative to rep when possible and returns the outcome.
func (g *Generator) enrich(ctx context.Context, span trace.Span, rep *Report, req Request, res *Result) string {
	p, err := g.selector.Pick(req.Mode)
	if err != nil {
		return outcomeUnavailable
	}

	d := g.limiter.CheckAndConsume(context.WithoutCancel(ctx), req.Identity)
	res.RateLimit = &d
	if !d.Allowed {
		return outcomeRateLimited
	}

	prompt, err := reportPrompt(rep, req.Format)
	if err != nil {
		return outcomeFailed
	}
	out, err := p.Generate(ctx, &llm.Request{
		System:      reportSystemPrompt,
		Prompt:      prompt,
		Model:       req.Model,
		MaxTokens:   maxNarrativeTokens,
		Temperature: llm.DefaultTemperature,
	})
	if err != nil {
		span.RecordError(err)
		g.logger.Warn(ctx, "narrative generation failed, using deterministic report",
			"incident_id", req.Incident.ID,
			"provider", p.Name(),
			"error", err,
		)
		return outcomeFailed
	}

	span.SetAttributes(attribute.String("aitriage.llm.provider", out.Provider))
	rep.Narrative = &Narrative{Text: out.Text, Provider: out.Provider, Model: out.Model}
	return outcomeNarrative
}

func (g *Generator) finish(span trace.Span, f Format, outcome string, start time.Time) {
	span.SetAttributes(attribute.String("aitriage.report.outcome", outcome))
	g.metrics.report(string(f), outcome, g.now().Sub(start).Seconds())
}

func reportPrompt(rep *Report, f Format) (string, error) {
	b, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return fmt.Sprintf("Generate a situation report in %s.\n\n"+
		"Include:\n"+
		"- Summary (1-3 sentences)\n"+
		"- Signals (saturation, latency, errors) with state/trend and observed vs threshold\n"+
		"- Suggested runbook steps (verify/mitigate/confirm)\n\n"+
		"Incident JSON:\n%s\n", f, b), nil
}

// ChatRequest is a free-form question.
type ChatRequest struct {
	Prompt   string
	Mode     llm.Mode
	Model    string
	Identity string
}

// ChatResult is a chat answer.
type ChatResult struct {
	Text     string
	Provider string
	Model    string

	// RateLimit is set whenever the limiter was consulted, including when
	// Chat returns an error.
	RateLimit *ratelimit.Decision
}

// Chat answers a free-form prompt. Unlike Generate it has no fallback: it
// returns ErrNoProvider, a *RateLimitError or ErrNarrativeFailed.
// Consumed quota is not refunded when the call fails or ctx is canceled.
func (g *Generator) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	ctx, span := g.tracer.Start(ctx, "report.Chat", trace.WithAttributes(
		attribute.String("aitriage.llm.mode", string(req.Mode)),
	))
	defer span.End()

	res := &ChatResult{}
	p, err := g.selector.Pick(req.Mode)
	if err != nil {
		g.metrics.chat("no_provider")
		return res, fmt.Errorf("%w: %v", ErrNoProvider, err)
	}

	d := g.limiter.CheckAndConsume(context.WithoutCancel(ctx), req.Identity)
	res.RateLimit = &d
	if !d.Allowed {
		g.metrics.chat("rate_limited")
		return res, &RateLimitError{RetryAfter: d.RetryAfter(g.now()), Decision: d}
	}

	out, err := p.Generate(ctx, &llm.Request{
		System:      chatSystemPrompt,
		Prompt:      req.Prompt,
		Model:       req.Model,
		MaxTokens:   maxNarrativeTokens,
		Temperature: llm.DefaultTemperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.metrics.chat("error")
		return res, fmt.Errorf("%w: %v", ErrNarrativeFailed, err)
	}

	g.metrics.chat("ok")
	span.SetAttributes(attribute.String("aitriage.llm.provider", out.Provider))
	res.Text, res.Provider, res.Model = out.Text, out.Provider, out.Model
	return res, nil
}
