package governance

import (
	"fmt"
	"strings"
	"time"

	"github.com/Merlins-Owl/Method-VI-sub002/core/callout"
	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	"github.com/Merlins-Owl/Method-VI-sub002/core/gateconfig"
	"github.com/Merlins-Owl/Method-VI-sub002/core/mode"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// Context holds one run's governance state: the write-once mode detection
// and the callout collection, bound to the run's gate configuration.
type Context struct {
	runID    string
	config   gateconfig.Config
	modeCell *mode.Cell
	callouts *callout.Manager
}

// NewContext creates a fresh governance context for a run. Callout options
// pass through to the manager, mainly for deterministic tests.
func NewContext(runID string, config gateconfig.Config, options ...callout.Option) *Context {
	return &Context{
		runID:    runID,
		config:   config,
		modeCell: mode.NewCell(),
		callouts: callout.NewManager(runID, config.Policies(), options...),
	}
}

// RunID returns the run this context governs.
func (governance *Context) RunID() string {
	return governance.runID
}

// DetectMode classifies the baseline score and locks the result. A second
// call fails with a mode_locked error.
func (governance *Context) DetectMode(baselineScore float64, now time.Time) (schemarun.ModeDetection, error) {
	return governance.modeCell.Detect(governance.runID, baselineScore, now)
}

// Mode returns the locked detection, if one exists.
func (governance *Context) Mode() (schemarun.ModeDetection, bool) {
	return governance.modeCell.Get()
}

// Threshold is one resolved metric threshold with its derivation.
type Threshold struct {
	Metric     string        `json:"metric"`
	Base       float64       `json:"base"`
	Multiplier float64       `json:"multiplier"`
	Effective  float64       `json:"effective"`
	Mode       schemarun.Mode `json:"mode,omitempty"`
}

// ResolveThreshold scales a metric's base threshold by the detected mode's
// multiplier. Before detection the base threshold applies unchanged.
func (governance *Context) ResolveThreshold(metric string) (Threshold, error) {
	base, exists := governance.config.BaseThreshold(metric)
	if !exists {
		return Threshold{}, coreerrors.Wrap(
			fmt.Errorf("metric %s has no configured threshold", metric),
			coreerrors.CategoryInvalidInput, "metric_unknown",
			"configure the metric under metrics in the gate config", false)
	}
	resolved := Threshold{Metric: metric, Base: base, Multiplier: 1.0, Effective: base}
	if detection, detected := governance.modeCell.Get(); detected {
		resolved.Mode = detection.Mode
		resolved.Multiplier = mode.Multiplier(detection.Mode)
		resolved.Effective = mode.Resolve(base, detection.Mode)
	}
	return resolved, nil
}

// EvaluateMetrics turns classified metric results into callouts, tiered
// against the current mode detection (nil before detection).
func (governance *Context) EvaluateMetrics(results []schemarun.MetricResult, step int) []schemarun.Callout {
	var detection *schemarun.ModeDetection
	if detected, exists := governance.modeCell.Get(); exists {
		detection = &detected
	}
	return governance.callouts.Generate(results, step, detection)
}

// Acknowledge marks one callout acknowledged.
func (governance *Context) Acknowledge(calloutID, confirmation string) (schemarun.Callout, error) {
	return governance.callouts.Acknowledge(calloutID, confirmation)
}

// AcknowledgeAll acknowledges every pending blocking callout.
func (governance *Context) AcknowledgeAll(confirmation string) int {
	return governance.callouts.AcknowledgeAll(confirmation)
}

// Decision is the step-transition verdict: allowed, or blocked with the
// callouts still awaiting acknowledgment.
type Decision struct {
	Allowed         bool                `json:"allowed"`
	PendingBlocking []schemarun.Callout `json:"pending_blocking,omitempty"`
	Message         string              `json:"message"`
}

// CanProceed computes the step-transition decision from live state. The
// verdict is never cached; every call re-reads the callout collection.
func (governance *Context) CanProceed() Decision {
	pending := governance.callouts.PendingBlocking()
	if len(pending) == 0 {
		return Decision{Allowed: true, Message: "no blocking callouts pending"}
	}
	metrics := make([]string, 0, len(pending))
	for _, entry := range pending {
		metrics = append(metrics, entry.Metric)
	}
	return Decision{
		Allowed:         false,
		PendingBlocking: pending,
		Message:         fmt.Sprintf("%d blocking callout(s) await acknowledgment: %s", len(pending), strings.Join(metrics, ", ")),
	}
}

// Summary returns the callout polling view.
func (governance *Context) Summary() schemarun.CalloutSummary {
	return governance.callouts.Summary()
}

// Callouts exposes the full callout list, history included.
func (governance *Context) Callouts() []schemarun.Callout {
	return governance.callouts.All()
}

// Current returns the newest callout for a metric.
func (governance *Context) Current(metric string) (schemarun.Callout, bool) {
	return governance.callouts.Current(metric)
}

// Replay reconstructs a context from persisted state. The detection, when
// present, seeds the write-once cell; callouts re-enter in their original
// order with acknowledgment state intact.
func Replay(runID string, config gateconfig.Config, detection *schemarun.ModeDetection, callouts []schemarun.Callout) (*Context, error) {
	governance := NewContext(runID, config)
	if detection != nil {
		if detection.RunID != runID {
			return nil, coreerrors.Wrap(
				fmt.Errorf("detection belongs to run %s, not %s", detection.RunID, runID),
				coreerrors.CategoryInvalidInput, "run_mismatch",
				"replay state from a single run", false)
		}
		if err := governance.modeCell.Restore(*detection); err != nil {
			return nil, err
		}
	}
	for _, entry := range callouts {
		if entry.RunID != runID {
			return nil, coreerrors.Wrap(
				fmt.Errorf("callout %s belongs to run %s, not %s", entry.CalloutID, entry.RunID, runID),
				coreerrors.CategoryInvalidInput, "run_mismatch",
				"replay state from a single run", false)
		}
		if err := governance.callouts.Restore(entry); err != nil {
			return nil, err
		}
	}
	return governance, nil
}
