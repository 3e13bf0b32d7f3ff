package scenarios

import (
	"errors"
	"slices"
	"testing"
)

func TestNames(t *testing.T) {
	t.Parallel()

	got := Names()
	want := []string{"full_outage", "saturation_only"}
	if !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestLoad_ByNameAndAlias(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"saturation_only", "saturation_only"},
		{"saturation-only", "saturation_only"},
		{"capacity_warning", "saturation_only"},
		{"full_outage", "full_outage"},
		{"Full-Outage", "full_outage"},
		{"outage", "full_outage"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			sc, err := Load(tt.in, "", "")
			if err != nil {
				t.Fatalf("Load(%q): %v", tt.in, err)
			}
			if sc.Name != tt.want {
				t.Errorf("Name = %q, want %q", sc.Name, tt.want)
			}
			if len(sc.Deliveries) != 3 {
				t.Errorf("deliveries = %d, want 3", len(sc.Deliveries))
			}
		})
	}
}

func TestLoad_SubstitutesTarget(t *testing.T) {
	t.Parallel()

	sc, err := Load("full_outage", "payments", "staging")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	inc, ok := sc.Deliveries[2].Payload["incident"].(map[string]any)
	if !ok {
		t.Fatalf("betterstack payload has no incident object: %#v", sc.Deliveries[2].Payload)
	}
	if inc["service"] != "payments" || inc["env"] != "staging" {
		t.Errorf("service/env = %v/%v, want payments/staging", inc["service"], inc["env"])
	}

	tags, _ := sc.Deliveries[1].Payload["tags"].([]any)
	if len(tags) != 2 || tags[0] != "service:payments" || tags[1] != "env:staging" {
		t.Errorf("datadog tags = %v", tags)
	}
}

func TestLoad_DefaultsTarget(t *testing.T) {
	t.Parallel()

	sc, err := Load("saturation_only", "", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	alerts, _ := sc.Deliveries[0].Payload["alerts"].([]any)
	if len(alerts) != 1 {
		t.Fatalf("prometheus alerts = %d, want 1", len(alerts))
	}
	labels, _ := alerts[0].(map[string]any)["labels"].(map[string]any)
	if labels["service"] != DefaultService || labels["env"] != DefaultEnv {
		t.Errorf("labels = %v", labels)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load("nope", "", ""); !errors.Is(err, ErrUnknownScenario) {
		t.Errorf("unknown scenario err = %v, want ErrUnknownScenario", err)
	}
	if _, err := Load("full_outage", "bad service: {x}", ""); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("invalid service err = %v, want ErrInvalidTarget", err)
	}
}
