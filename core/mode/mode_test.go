package mode

import (
	"math"
	"sync"
	"testing"
	"time"

	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

const tolerance = 1e-9

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  schemarun.Mode
	}{
		{0.0, schemarun.ModeArchitecting},
		{0.4999, schemarun.ModeArchitecting},
		{0.50, schemarun.ModeBuilder},
		{0.65, schemarun.ModeBuilder},
		{0.7999, schemarun.ModeBuilder},
		{0.80, schemarun.ModeRefining},
		{1.0, schemarun.ModeRefining},
	}
	for _, testCase := range cases {
		if got := Classify(testCase.score); got != testCase.want {
			t.Fatalf("Classify(%.4f) = %s, want %s", testCase.score, got, testCase.want)
		}
	}
}

func TestConfidenceFloors(t *testing.T) {
	for score := 0.0; score < 0.50; score += 0.01 {
		if got := Confidence(schemarun.ModeArchitecting, score); got < 0.80 {
			t.Fatalf("architecting confidence %.4f below floor at score %.2f", got, score)
		}
	}
	for score := 0.50; score < 0.80; score += 0.01 {
		if got := Confidence(schemarun.ModeBuilder, score); got < 0.85 {
			t.Fatalf("builder confidence %.4f below floor at score %.2f", got, score)
		}
	}
	for score := 0.80; score <= 1.0; score += 0.01 {
		if got := Confidence(schemarun.ModeRefining, score); got < 0.90 {
			t.Fatalf("refining confidence %.4f below floor at score %.2f", got, score)
		}
	}
}

func TestConfidenceClamped(t *testing.T) {
	for score := 0.0; score <= 1.0; score += 0.005 {
		confidence := Confidence(Classify(score), score)
		if confidence < 0 || confidence > 1 {
			t.Fatalf("confidence %.4f outside [0,1] at score %.3f", confidence, score)
		}
	}
}

func TestConfidenceFormulaMidBand(t *testing.T) {
	// Far from both boundaries the Builder formula exceeds its floor:
	// score 0.65 is 0.15 from either boundary, so 1 - 2*0.15 = 0.70 floors
	// to 0.85; score 0.10 gives Architecting 1 - 0.40 = 0.60 floored to 0.80.
	if got := Confidence(schemarun.ModeBuilder, 0.65); math.Abs(got-0.85) > tolerance {
		t.Fatalf("builder mid-band confidence = %.4f, want 0.85", got)
	}
	if got := Confidence(schemarun.ModeArchitecting, 0.02); math.Abs(got-0.80) > tolerance {
		t.Fatalf("architecting low-score confidence = %.4f, want floor 0.80", got)
	}
	if got := Confidence(schemarun.ModeRefining, 0.95); math.Abs(got-0.90) > tolerance {
		t.Fatalf("refining confidence = %.4f, want floor 0.90", got)
	}
	// Near a boundary the distance term dominates the floor.
	if got := Confidence(schemarun.ModeArchitecting, 0.49); math.Abs(got-0.99) > tolerance {
		t.Fatalf("architecting near-boundary confidence = %.4f, want 0.99", got)
	}
}

func TestResolveMultipliers(t *testing.T) {
	cases := []struct {
		mode schemarun.Mode
		want float64
	}{
		{schemarun.ModeArchitecting, 0.497},
		{schemarun.ModeBuilder, 0.70},
		{schemarun.ModeRefining, 0.77},
	}
	for _, testCase := range cases {
		got := Resolve(0.70, testCase.mode)
		if math.Abs(got-testCase.want) > 1e-6 {
			t.Fatalf("Resolve(0.70, %s) = %.6f, want %.3f", testCase.mode, got, testCase.want)
		}
	}
}

func TestResolveNeverMutatesBase(t *testing.T) {
	base := 0.55
	_ = Resolve(base, schemarun.ModeArchitecting)
	_ = Resolve(base, schemarun.ModeRefining)
	if base != 0.55 {
		t.Fatalf("base threshold mutated to %.4f", base)
	}
}

func TestDetectRejectsOutOfRangeScore(t *testing.T) {
	for _, score := range []float64{-0.01, 1.01} {
		_, err := Detect("run-1", score, time.Now())
		if err == nil {
			t.Fatalf("expected error for score %.2f", score)
		}
		if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
			t.Fatalf("unexpected category %s", coreerrors.CategoryOf(err))
		}
	}
}

func TestCellDetectOncePerRun(t *testing.T) {
	cell := NewCell()
	detection, err := cell.Detect("run-1", 0.62, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("first detection failed: %v", err)
	}
	if detection.Mode != schemarun.ModeBuilder {
		t.Fatalf("unexpected mode %s", detection.Mode)
	}

	_, err = cell.Detect("run-1", 0.90, time.Now())
	if err == nil {
		t.Fatal("expected second detection to fail")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryModeLocked {
		t.Fatalf("unexpected category %s", coreerrors.CategoryOf(err))
	}

	stored, ok := cell.Get()
	if !ok || stored.Mode != schemarun.ModeBuilder || stored.BaselineScore != 0.62 {
		t.Fatalf("stored detection corrupted: %+v", stored)
	}
}

func TestCellConcurrentDetectExactlyOneWinner(t *testing.T) {
	cell := NewCell()
	const attempts = 32
	var waitGroup sync.WaitGroup
	successes := make(chan schemarun.ModeDetection, attempts)
	failures := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		waitGroup.Add(1)
		score := 0.30 + float64(i)*0.02
		go func(score float64) {
			defer waitGroup.Done()
			detection, err := cell.Detect("run-1", score, time.Now())
			if err != nil {
				failures <- err
				return
			}
			successes <- detection
		}(score)
	}
	waitGroup.Wait()
	close(successes)
	close(failures)

	if len(successes) != 1 {
		t.Fatalf("expected exactly one successful detection, got %d", len(successes))
	}
	if len(failures) != attempts-1 {
		t.Fatalf("expected %d locked failures, got %d", attempts-1, len(failures))
	}
	for err := range failures {
		if coreerrors.CategoryOf(err) != coreerrors.CategoryModeLocked {
			t.Fatalf("unexpected failure category: %v", err)
		}
	}
}

func TestCellRestoreRespectsLock(t *testing.T) {
	cell := NewCell()
	seed := schemarun.ModeDetection{RunID: "run-1", Mode: schemarun.ModeRefining, BaselineScore: 0.85, Confidence: 0.95}
	if err := cell.Restore(seed); err != nil {
		t.Fatalf("restore into empty cell failed: %v", err)
	}
	if err := cell.Restore(seed); err == nil {
		t.Fatal("expected second restore to fail")
	}
	if _, err := cell.Detect("run-1", 0.2, time.Now()); err == nil {
		t.Fatal("expected detect after restore to fail")
	}
}
