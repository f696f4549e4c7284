package mode

import schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"

// Fixed threshold multipliers per mode. Mode-adjusted thresholds are always
// derived values; the base is never mutated.
const (
	architectingMultiplier = 0.71
	builderMultiplier      = 1.00
	refiningMultiplier     = 1.10
)

// Multiplier returns the fixed threshold multiplier for a mode. Unknown
// modes resolve to the neutral multiplier.
func Multiplier(detected schemarun.Mode) float64 {
	switch detected {
	case schemarun.ModeArchitecting:
		return architectingMultiplier
	case schemarun.ModeRefining:
		return refiningMultiplier
	default:
		return builderMultiplier
	}
}

// Resolve adjusts a base threshold for the detected mode. It applies
// identically to pass, warning, and halt boundaries of every adaptive
// metric. Callers that have no detected mode yet use the base unmodified;
// that fallback is theirs, not the resolver's.
func Resolve(base float64, detected schemarun.Mode) float64 {
	return base * Multiplier(detected)
}
