package callout

import (
	"github.com/Merlins-Owl/Method-VI-sub002/core/mode"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// GatePolicy describes one metric's soft and hard gates. A warning inside
// the soft-gate range stays advisory; a failure below the hard floor
// blocks. Mode-adaptive floors are rescaled through the threshold resolver
// before comparison.
type GatePolicy struct {
	HasSoftGate       bool
	SoftGateLow       float64
	SoftGateHigh      float64
	HasHardFloor      bool
	HardFloor         float64
	ModeAdaptiveFloor bool
}

// Policies maps metric names to their gate policies.
type Policies map[string]GatePolicy

// DetermineTier maps a metric's raw pass/warning/fail status onto a callout
// tier, before the noise filter runs.
func DetermineTier(result schemarun.MetricResult, policy GatePolicy, detection *schemarun.ModeDetection) schemarun.Tier {
	switch result.Status {
	case schemarun.MetricPass:
		return schemarun.TierInformational
	case schemarun.MetricWarning:
		if policy.HasSoftGate && result.Value >= policy.SoftGateLow && result.Value < policy.SoftGateHigh {
			return schemarun.TierMinor
		}
		return schemarun.TierImportant
	case schemarun.MetricFail:
		if policy.HasHardFloor && result.Value < effectiveHardFloor(policy, detection) {
			return schemarun.TierBlocking
		}
		return schemarun.TierImportant
	default:
		return schemarun.TierImportant
	}
}

// applyNoiseFilter demotes important callouts to minor while the run is in
// Architecting mode. Blocking is never demoted.
func applyNoiseFilter(tier schemarun.Tier, detection *schemarun.ModeDetection) schemarun.Tier {
	if detection == nil {
		return tier
	}
	if detection.Mode == schemarun.ModeArchitecting && tier == schemarun.TierImportant {
		return schemarun.TierMinor
	}
	return tier
}

func effectiveHardFloor(policy GatePolicy, detection *schemarun.ModeDetection) float64 {
	if policy.ModeAdaptiveFloor && detection != nil {
		return mode.Resolve(policy.HardFloor, detection.Mode)
	}
	return policy.HardFloor
}
