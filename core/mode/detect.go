package mode

import (
	"fmt"
	"math"
	"sync"
	"time"

	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// Classification boundaries over the baseline coherence score.
const (
	builderBoundary  = 0.50
	refiningBoundary = 0.80
)

// Confidence floors keep detection confidence from reading alarmingly low
// near a boundary.
const (
	architectingConfidenceFloor = 0.80
	builderConfidenceFloor      = 0.85
	refiningConfidenceFloor     = 0.90
)

// Classify maps a baseline score onto one of the three ordered modes.
// Boundaries are half-open: 0.50 is Builder, 0.80 is Refining.
func Classify(score float64) schemarun.Mode {
	switch {
	case score < builderBoundary:
		return schemarun.ModeArchitecting
	case score < refiningBoundary:
		return schemarun.ModeBuilder
	default:
		return schemarun.ModeRefining
	}
}

// Confidence is a monotonic function of distance from the nearest boundary,
// floored per mode and clamped to [0,1] after flooring.
func Confidence(detected schemarun.Mode, score float64) float64 {
	var confidence float64
	switch detected {
	case schemarun.ModeArchitecting:
		confidence = math.Max(architectingConfidenceFloor, 1-math.Abs(builderBoundary-score))
	case schemarun.ModeBuilder:
		nearest := math.Min(math.Abs(score-builderBoundary), math.Abs(refiningBoundary-score))
		confidence = math.Max(builderConfidenceFloor, 1-2*nearest)
	case schemarun.ModeRefining:
		confidence = math.Max(refiningConfidenceFloor, 1-math.Abs(score-refiningBoundary))
	}
	return clamp01(confidence)
}

// Detect classifies a baseline score into a detection result. It does not
// lock anything; per-run locking belongs to Cell.
func Detect(runID string, score float64, now time.Time) (schemarun.ModeDetection, error) {
	if score < 0 || score > 1 {
		return schemarun.ModeDetection{}, coreerrors.Wrap(
			fmt.Errorf("baseline score %.4f outside [0,1]", score),
			coreerrors.CategoryInvalidInput, "baseline_score_out_of_range",
			"baseline coherence scores are normalized to [0,1]", false)
	}
	detected := Classify(score)
	return schemarun.ModeDetection{
		SchemaID:      schemarun.ModeDetectionSchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		RunID:         runID,
		Mode:          detected,
		BaselineScore: score,
		Confidence:    Confidence(detected, score),
		DetectedAt:    now.UTC(),
	}, nil
}

// Cell is the write-once holder of a run's mode detection. The
// check-then-lock sequence is atomic, so two concurrent detection attempts
// cannot both succeed; the loser gets a mode_locked error.
type Cell struct {
	mu        sync.Mutex
	detection *schemarun.ModeDetection
}

// NewCell returns an unset cell.
func NewCell() *Cell {
	return &Cell{}
}

// Detect classifies and stores the result. A second call fails explicitly
// rather than silently overwriting.
func (cell *Cell) Detect(runID string, score float64, now time.Time) (schemarun.ModeDetection, error) {
	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.detection != nil {
		return schemarun.ModeDetection{}, cell.lockedError(runID)
	}
	detection, err := Detect(runID, score, now)
	if err != nil {
		return schemarun.ModeDetection{}, err
	}
	cell.detection = &detection
	return detection, nil
}

// Restore seeds the cell from a persisted detection during replay. It obeys
// the same write-once contract as Detect.
func (cell *Cell) Restore(detection schemarun.ModeDetection) error {
	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.detection != nil {
		return cell.lockedError(detection.RunID)
	}
	stored := detection
	cell.detection = &stored
	return nil
}

// Get returns the stored detection, if any.
func (cell *Cell) Get() (schemarun.ModeDetection, bool) {
	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.detection == nil {
		return schemarun.ModeDetection{}, false
	}
	return *cell.detection, true
}

func (cell *Cell) lockedError(runID string) error {
	return coreerrors.Wrap(
		fmt.Errorf("mode already detected for run %s as %s", runID, cell.detection.Mode),
		coreerrors.CategoryModeLocked, "mode_already_locked",
		"mode detection runs exactly once per run and is immutable afterwards", false)
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
