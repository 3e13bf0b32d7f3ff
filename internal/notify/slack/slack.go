// Package slack posts incident escalations to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/aitriage/internal/alert"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends escalated incidents to a Slack webhook. It implements
// triage.Notifier.
type Notifier struct {
	webhookURL string
	publicURL  string
	client     *http.Client
}

// New creates a Slack notifier. If webhookURL is empty, Send is a no-op.
// A non-empty publicURL adds a link to the incident's report endpoint.
func New(webhookURL, publicURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		publicURL:  strings.TrimRight(publicURL, "/"),
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// Send posts inc to the configured webhook.
func (n *Notifier) Send(ctx context.Context, inc *triage.Incident) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(n.buildMessage(inc))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (n *Notifier) buildMessage(inc *triage.Incident) map[string]any {
	blocks := []map[string]any{
		headerBlock(inc),
		fieldsBlock(inc),
		{"type": "divider"},
		summaryBlock(inc),
	}
	if sb, ok := signalsBlock(inc); ok {
		blocks = append(blocks, sb)
	}
	blocks = append(blocks, n.contextBlock(inc))
	return map[string]any{
		// Fallback for clients that do not render blocks.
		"text":   fmt.Sprintf("%s impact on %s (%s): %s", inc.Impact.Impact, inc.Service, inc.Env, inc.Impact.Classification),
		"blocks": blocks,
	}
}

func headerBlock(inc *triage.Incident) map[string]any {
	text := fmt.Sprintf("%s %s impact: %s (%s)", impactEmoji(inc.Impact.Impact), titleCase(string(inc.Impact.Impact)), inc.Service, inc.Env)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(inc *triage.Incident) map[string]any {
	fields := []map[string]any{
		mrkdwn(fmt.Sprintf("*Status:* %s", inc.Status)),
		mrkdwn(fmt.Sprintf("*Classification:* %s", inc.Impact.Classification)),
		mrkdwn(fmt.Sprintf("*Confidence:* %.2f", inc.Impact.Confidence)),
		mrkdwn(fmt.Sprintf("*Alerts:* %d", len(inc.Alerts))),
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(inc *triage.Incident) map[string]any {
	var b strings.Builder
	b.WriteString(inc.Impact.Summary)
	for _, r := range inc.Impact.Reasons {
		b.WriteString("\n• " + r)
	}
	text := truncate(strings.TrimSpace(b.String()), maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn("*Summary*\n\n" + text),
	}
}

// signalsBlock lists every observed signal, tracked signals first.
func signalsBlock(inc *triage.Incident) (map[string]any, bool) {
	types := make([]alert.SignalType, 0, len(inc.Signals))
	for st, s := range inc.Signals {
		if s != nil {
			types = append(types, st)
		}
	}
	if len(types) == 0 {
		return nil, false
	}
	slices.SortFunc(types, func(a, b alert.SignalType) int {
		return signalRank(a) - signalRank(b)
	})

	lines := make([]string, 0, len(types))
	for _, st := range types {
		s := inc.Signals[st]
		lines = append(lines, fmt.Sprintf("• *%s*: %s (trend %s)", st, s.State, s.Trend))
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn("*Signals*\n" + strings.Join(lines, "\n")),
	}, true
}

func (n *Notifier) contextBlock(inc *triage.Incident) map[string]any {
	text := fmt.Sprintf("aitriage • incident %s • %s", inc.ID, inc.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	if n.publicURL != "" {
		text += fmt.Sprintf(" • <%s/api/v1/incidents/%s|details>", n.publicURL, inc.ID)
	}
	return map[string]any{
		"type":     "context",
		"elements": []map[string]any{mrkdwn(text)},
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func signalRank(st alert.SignalType) int {
	if i := slices.Index(alert.TrackedSignals, st); i >= 0 {
		return i
	}
	return len(alert.TrackedSignals)
}

func impactEmoji(level triage.ImpactLevel) string {
	switch level {
	case triage.ImpactMajor:
		return "\U0001f534" // red circle
	case triage.ImpactMinor:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
