package gateconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gates.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	configuration, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	threshold, exists := configuration.BaseThreshold("alignment")
	if !exists || threshold != 0.70 {
		t.Fatalf("expected default alignment threshold 0.70, got %.4f (exists=%v)", threshold, exists)
	}
}

func TestLoadMissingFileStrict(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Fatal("expected error for missing config without allowMissing")
	}
}

func TestLoadOverridesMergeWithDefaults(t *testing.T) {
	path := writeConfig(t, `
metrics:
  alignment:
    base_threshold: 0.80
    hard_floor:
      value: 0.35
  novelty:
    base_threshold: 0.60
`)
	configuration, err := Load(path, false)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if threshold, _ := configuration.BaseThreshold("alignment"); threshold != 0.80 {
		t.Fatalf("expected overridden threshold 0.80, got %.4f", threshold)
	}
	if threshold, exists := configuration.BaseThreshold("novelty"); !exists || threshold != 0.60 {
		t.Fatalf("expected new metric novelty at 0.60, got %.4f (exists=%v)", threshold, exists)
	}
	// Untouched defaults survive the merge.
	if threshold, exists := configuration.BaseThreshold("coherence"); !exists || threshold != 0.70 {
		t.Fatalf("expected default coherence threshold 0.70, got %.4f (exists=%v)", threshold, exists)
	}
}

func TestLoadRejectsInvalidGates(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"threshold above one", "metrics:\n  alignment:\n    base_threshold: 1.5\n"},
		{"inverted soft gate", "metrics:\n  alignment:\n    base_threshold: 0.7\n    soft_gate:\n      low: 0.8\n      high: 0.3\n"},
		{"negative hard floor", "metrics:\n  alignment:\n    base_threshold: 0.7\n    hard_floor:\n      value: -0.1\n"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, testCase.content), false); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPoliciesConversion(t *testing.T) {
	policies := Default().Policies()

	alignment := policies["alignment"]
	if !alignment.HasSoftGate || alignment.SoftGateLow != 0.30 || alignment.SoftGateHigh != 0.70 {
		t.Fatalf("unexpected alignment soft gate: %+v", alignment)
	}
	if !alignment.HasHardFloor || alignment.HardFloor != 0.30 || alignment.ModeAdaptiveFloor {
		t.Fatalf("unexpected alignment hard floor: %+v", alignment)
	}

	coherence := policies["coherence"]
	if !coherence.HasHardFloor || coherence.HardFloor != 0.55 || !coherence.ModeAdaptiveFloor {
		t.Fatalf("unexpected coherence policy: %+v", coherence)
	}

	completeness := policies["completeness"]
	if completeness.HasSoftGate || completeness.HasHardFloor {
		t.Fatalf("completeness has no gates, got %+v", completeness)
	}
}
