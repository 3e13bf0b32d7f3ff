// Package scenarios holds the built-in demo alert sequences.
package scenarios

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed *.yaml
var files embed.FS

// ErrUnknownScenario is returned for a name that matches no scenario.
var ErrUnknownScenario = errors.New("unknown scenario")

// ErrInvalidTarget is returned when the service or env is not a plain
// identifier.
var ErrInvalidTarget = errors.New("invalid scenario target")

// Defaults used when a scenario is run without a target.
const (
	DefaultService = "checkout"
	DefaultEnv     = "prod"
)

// Delivery is one webhook as a provider would send it.
type Delivery struct {
	Provider string         `yaml:"provider"`
	Payload  map[string]any `yaml:"payload"`
}

// Scenario is a named sequence of deliveries.
type Scenario struct {
	Name        string     `yaml:"name"`
	Aliases     []string   `yaml:"aliases"`
	Description string     `yaml:"description"`
	Deliveries  []Delivery `yaml:"deliveries"`
}

var identRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,62}$`)

// Names returns the canonical scenario names, sorted.
func Names() []string {
	entries, err := fs.Glob(files, "*.yaml")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e, ".yaml"))
	}
	slices.Sort(names)
	return names
}

// Load returns the scenario matching name or one of its aliases, targeted
// at service and env. Empty service or env use the defaults.
func Load(name, service, env string) (*Scenario, error) {
	if service == "" {
		service = DefaultService
	}
	if env == "" {
		env = DefaultEnv
	}
	if !identRe.MatchString(service) || !identRe.MatchString(env) {
		return nil, fmt.Errorf("%w: %q/%q", ErrInvalidTarget, service, env)
	}

	want := strings.ToLower(strings.TrimSpace(name))
	for _, n := range Names() {
		raw, err := files.ReadFile(n + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", n, err)
		}
		var head struct {
			Name    string   `yaml:"name"`
			Aliases []string `yaml:"aliases"`
		}
		if err := yaml.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", n, err)
		}
		if head.Name != want && !slices.Contains(head.Aliases, want) {
			continue
		}

		expanded := strings.NewReplacer("$SERVICE", service, "$ENV", env).Replace(string(raw))
		var sc Scenario
		if err := yaml.Unmarshal([]byte(expanded), &sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", n, err)
		}
		return &sc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
}
