package gateconfig

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/Merlins-Owl/Method-VI-sub002/core/callout"
)

const DefaultPath = ".methodvi/gates.yaml"

// Config is the project-level gate configuration: per-metric base
// thresholds, soft-gate ranges for warnings, and hard floors for failures.
type Config struct {
	Metrics map[string]MetricGate `yaml:"metrics"`
}

// MetricGate describes one metric's gate settings. A nil SoftGate or
// HardFloor means the metric has no gate of that kind.
type MetricGate struct {
	BaseThreshold float64    `yaml:"base_threshold"`
	SoftGate      *SoftGate  `yaml:"soft_gate,omitempty"`
	HardFloor     *HardFloor `yaml:"hard_floor,omitempty"`
}

// SoftGate is the half-open [low, high) range inside which a warning stays
// advisory.
type SoftGate struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// HardFloor is the value below which a failing metric blocks progression.
// ModeAdaptive floors are rescaled by the detected mode's multiplier.
type HardFloor struct {
	Value        float64 `yaml:"value"`
	ModeAdaptive bool    `yaml:"mode_adaptive"`
}

// Default returns the built-in gate configuration used when no project
// file overrides it.
func Default() Config {
	return Config{
		Metrics: map[string]MetricGate{
			"alignment": {
				BaseThreshold: 0.70,
				SoftGate:      &SoftGate{Low: 0.30, High: 0.70},
				HardFloor:     &HardFloor{Value: 0.30},
			},
			"evidence_substantiation": {
				BaseThreshold: 0.70,
				HardFloor:     &HardFloor{Value: 0.50},
			},
			"coherence": {
				BaseThreshold: 0.70,
				HardFloor:     &HardFloor{Value: 0.55, ModeAdaptive: true},
			},
			"clarity": {
				BaseThreshold: 0.65,
				SoftGate:      &SoftGate{Low: 0.40, High: 0.65},
			},
			"completeness": {
				BaseThreshold: 0.75,
			},
		},
	}
}

// Load reads gate configuration from disk. Metrics present in the file
// override the defaults; metrics absent from the file keep theirs. A
// missing file yields the defaults when allowMissing is set.
func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("gate config path is required")
	}

	// #nosec G304 -- gate config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read gate config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Default(), nil
	}

	var overrides Config
	if err := yaml.Unmarshal(content, &overrides); err != nil {
		return Config{}, fmt.Errorf("parse gate config: %w", err)
	}

	configuration := Default()
	for metric, gate := range overrides.Metrics {
		configuration.Metrics[strings.TrimSpace(metric)] = gate
	}
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (configuration Config) validate() error {
	metrics := make([]string, 0, len(configuration.Metrics))
	for metric := range configuration.Metrics {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		gate := configuration.Metrics[metric]
		if gate.BaseThreshold < 0 || gate.BaseThreshold > 1 {
			return fmt.Errorf("metric %s: base threshold %.4f outside [0,1]", metric, gate.BaseThreshold)
		}
		if gate.SoftGate != nil && gate.SoftGate.Low >= gate.SoftGate.High {
			return fmt.Errorf("metric %s: soft gate low %.4f must be below high %.4f", metric, gate.SoftGate.Low, gate.SoftGate.High)
		}
		if gate.HardFloor != nil && (gate.HardFloor.Value < 0 || gate.HardFloor.Value > 1) {
			return fmt.Errorf("metric %s: hard floor %.4f outside [0,1]", metric, gate.HardFloor.Value)
		}
	}
	return nil
}

// BaseThreshold returns the configured base threshold for a metric.
func (configuration Config) BaseThreshold(metric string) (float64, bool) {
	gate, exists := configuration.Metrics[metric]
	if !exists {
		return 0, false
	}
	return gate.BaseThreshold, true
}

// Policies converts the configuration into the callout manager's gate
// policy table.
func (configuration Config) Policies() callout.Policies {
	policies := callout.Policies{}
	for metric, gate := range configuration.Metrics {
		policy := callout.GatePolicy{}
		if gate.SoftGate != nil {
			policy.HasSoftGate = true
			policy.SoftGateLow = gate.SoftGate.Low
			policy.SoftGateHigh = gate.SoftGate.High
		}
		if gate.HardFloor != nil {
			policy.HasHardFloor = true
			policy.HardFloor = gate.HardFloor.Value
			policy.ModeAdaptiveFloor = gate.HardFloor.ModeAdaptive
		}
		policies[metric] = policy
	}
	return policies
}
