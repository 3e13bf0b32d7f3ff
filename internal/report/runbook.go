package report

import "github.com/linnemanlabs/aitriage/internal/triage"

// Step is one suggested runbook action.
type Step struct {
	Title           string   `json:"title"`
	Verify          []string `json:"verify,omitempty"`
	Mitigate        []string `json:"mitigate,omitempty"`
	Confirm         []string `json:"confirm,omitempty"`
	ExampleCommands []string `json:"exampleCommands,omitempty"`
}

var capacityRunbook = []Step{
	{
		Title: "Validate whether capacity is actually impacting users",
		Verify: []string{
			"Check p95/p99 latency against SLO.",
			"Check error rate (% 5xx / exceptions) for the same time window.",
			"Confirm request rate and throughput are normal.",
		},
	},
	{
		Title: "Identify the saturated resource",
		Verify: []string{
			"CPU saturation: look for hot pods or nodes.",
			"Connection pool saturation: compare DB pool usage to its maximum.",
			"Worker saturation: check queue depth and worker utilization.",
		},
		ExampleCommands: []string{
			"kubectl top pods -n <ns>",
			"kubectl top nodes",
			"kubectl describe hpa -n <ns> <hpa-name>",
		},
	},
	{
		Title: "Mitigate safely if needed",
		Mitigate: []string{
			"Scale out if autoscaling is not keeping up, or temporarily raise limits.",
			"Roll back the last deploy if it increased resource usage.",
			"Shed non-critical traffic if the service is nearing failure.",
		},
	},
}

var latencyRunbook = []Step{
	{
		Title: "Confirm where latency is coming from",
		Verify: []string{
			"Break down latency by dependency (DB, cache, external APIs).",
			"Compare p95 and p99; tail latency often points to contention.",
			"Check saturation and error rate in the same window.",
		},
	},
	{
		Title: "Mitigate",
		Mitigate: []string{
			"Scale the bottleneck or reduce concurrency.",
			"Disable non-critical features and expensive code paths.",
			"Roll back or pause a deployment that correlates with the regression.",
		},
	},
	{
		Title: "Validate recovery",
		Confirm: []string{
			"Latency back within SLO for 10-15 minutes.",
			"Error rate stable.",
			"Saturation trending down.",
		},
	},
}

var errorRunbook = []Step{
	{
		Title: "Stop the bleeding",
		Mitigate: []string{
			"Roll back the most recent deploy if errors started right after it.",
			"Scale if errors come from timeouts or resource exhaustion.",
			"Enable a safe mode or fallback to reduce blast radius.",
		},
	},
	{
		Title: "Triage the errors quickly",
		Verify: []string{
			"Look at error logs and traces: top exception types, top endpoints.",
			"Check dependency health (DB, cache, downstream APIs).",
			"Check whether errors are limited to one AZ, region or version.",
		},
	},
	{
		Title: "Validate recovery",
		Confirm: []string{
			"Error rate back to baseline.",
			"Latency stable.",
			"No new alerts firing for 10-15 minutes.",
		},
	},
}

var defaultRunbook = []Step{
	{
		Title: "Quick validation",
		Verify: []string{
			"Is there user impact? (latency, errors, synthetic checks)",
			"Is it isolated to one service, env or region?",
			"Did anything change recently? (deploys, config, traffic)",
		},
	},
	{
		Title: "Next steps",
		Mitigate: []string{
			"Scale bottlenecks or reduce load.",
			"Roll back if the issue correlates with a recent change.",
			"Escalate to the owning team if needed.",
		},
	},
}

// Runbook returns suggested steps for an impact classification.
func Runbook(classification string) []Step {
	var src []Step
	switch classification {
	case triage.ClassCapacityWarning:
		src = capacityRunbook
	case triage.ClassLatencyDegradation, triage.ClassDegradationRisk:
		src = latencyRunbook
	case triage.ClassErrorSpike, triage.ClassOutage:
		src = errorRunbook
	default:
		src = defaultRunbook
	}
	out := make([]Step, len(src))
	copy(out, src)
	return out
}
