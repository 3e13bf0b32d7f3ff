// Package reportcache caches rendered incident reports. Entries are grouped
// by incident so every variant for an incident can be dropped at once. A
// failing backend never fails a request: reads miss and writes are skipped.
package reportcache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultTTL bounds how long an entry lives even without invalidation.
const DefaultTTL = 30 * time.Minute

// Key identifies one rendered variant of an incident report.
type Key struct {
	IncidentID  string
	ContentHash string
	Format      string
	LLMMode     string
	Model       string
}

// String returns the backend key.
func (k Key) String() string {
	model := k.Model
	if model == "" {
		model = "-"
	}
	return strings.Join([]string{"report", k.IncidentID, k.ContentHash, k.Format, k.LLMMode, model}, ":")
}

// Entry is a cached rendered report.
type Entry struct {
	Body        []byte    `json:"body"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Provider is a cache backend. Group is the incident ID; InvalidateGroup
// drops every key set under it.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, group, key string, value []byte, ttl time.Duration) error
	InvalidateGroup(ctx context.Context, group string) error
	Close() error
}

// Cache wraps a Provider with entry encoding and failure isolation.
type Cache struct {
	p       Provider
	ttl     time.Duration
	logger  log.Logger
	metrics *Metrics
}

// New returns a Cache over p. A nil provider disables caching; a
// non-positive ttl uses DefaultTTL.
func New(p Provider, ttl time.Duration, logger log.Logger, metrics *Metrics) *Cache {
	if p == nil {
		p = Noop{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Cache{p: p, ttl: ttl, logger: logger, metrics: metrics}
}

// Get returns the entry for k. Backend and decode errors are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, k Key) (*Entry, bool) {
	raw, ok, err := c.p.Get(ctx, k.String())
	if err != nil {
		c.logger.Warn(ctx, "report cache read failed", "incident_id", k.IncidentID, "error", err)
		c.metrics.op("get", "error")
		return nil, false
	}
	if !ok {
		c.metrics.op("get", "miss")
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn(ctx, "report cache entry undecodable", "incident_id", k.IncidentID, "error", err)
		c.metrics.op("get", "error")
		return nil, false
	}
	c.metrics.op("get", "hit")
	return &e, true
}

// Put stores e under k. Failures are logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, k Key, e *Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn(ctx, "report cache entry unencodable", "incident_id", k.IncidentID, "error", err)
		c.metrics.op("set", "error")
		return
	}
	if err := c.p.Set(ctx, k.IncidentID, k.String(), raw, c.ttl); err != nil {
		c.logger.Warn(ctx, "report cache write failed", "incident_id", k.IncidentID, "error", err)
		c.metrics.op("set", "error")
		return
	}
	c.metrics.op("set", "ok")
}

// InvalidateIncident drops every cached variant for the incident.
func (c *Cache) InvalidateIncident(ctx context.Context, incidentID string) {
	if err := c.p.InvalidateGroup(ctx, incidentID); err != nil {
		c.logger.Warn(ctx, "report cache invalidation failed", "incident_id", incidentID, "error", err)
		c.metrics.op("invalidate", "error")
		return
	}
	c.metrics.op("invalidate", "ok")
}

// Close releases the backend.
func (c *Cache) Close() error { return c.p.Close() }

// Noop is a Provider that stores nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, string, []byte, time.Duration) error { return nil }

func (Noop) InvalidateGroup(context.Context, string) error { return nil }

func (Noop) Close() error { return nil }
