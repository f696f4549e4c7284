package compliance

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Merlins-Owl/Method-VI-sub002/core/artifact"
	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

type trailBuilder struct {
	entries []schemarun.AuditEntry
	at      time.Time
}

func newTrail() *trailBuilder {
	return &trailBuilder{at: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (builder *trailBuilder) add(kind schemarun.AuditKind, step int, mutate func(*schemarun.AuditEntry)) *trailBuilder {
	builder.at = builder.at.Add(time.Minute)
	entry := schemarun.AuditEntry{
		SchemaID:      schemarun.AuditEntrySchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		RunID:         "run-1",
		Seq:           len(builder.entries) + 1,
		Kind:          kind,
		Step:          step,
		At:            builder.at,
	}
	if mutate != nil {
		mutate(&entry)
	}
	builder.entries = append(builder.entries, entry)
	return builder
}

func (builder *trailBuilder) commit(step int, kind string, version int) *trailBuilder {
	return builder.add(schemarun.AuditArtifactCommit, step, func(entry *schemarun.AuditEntry) {
		entry.ArtifactKind = kind
		entry.ArtifactVersion = version
	})
}

func (builder *trailBuilder) gateSequence(step int) *trailBuilder {
	return builder.
		add(schemarun.AuditMetricEvaluation, step, func(entry *schemarun.AuditEntry) { entry.Metric = "coherence" }).
		add(schemarun.AuditApprovalGranted, step, nil).
		add(schemarun.AuditGateDecision, step, func(entry *schemarun.AuditEntry) { entry.Decision = "open" })
}

func cleanTrailThroughDraft() []schemarun.AuditEntry {
	builder := newTrail().
		add(schemarun.AuditStepStarted, 0, nil).
		commit(0, artifact.KindCharter, 1).
		add(schemarun.AuditStepCompleted, 0, nil)
	for step := 1; step <= 3; step++ {
		builder.gateSequence(step).add(schemarun.AuditStepStarted, step, nil)
		switch step {
		case 2:
			builder.commit(2, artifact.KindOutline, 1)
		case 3:
			builder.commit(3, artifact.KindFullDraft, 1)
		}
		builder.add(schemarun.AuditStepCompleted, step, nil)
	}
	return builder.entries
}

func failedNames(result Result) []string {
	names := make([]string, 0, len(result.FailedChecks))
	for _, failed := range result.FailedChecks {
		names = append(names, failed.Name)
	}
	return names
}

func TestScoreCleanTrailIsPerfect(t *testing.T) {
	result, err := Score(cleanTrailThroughDraft())
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.Score != 1.0 {
		t.Fatalf("expected 1.0, got %.4f (failed: %v)", result.Score, failedNames(result))
	}
	if len(result.FailedChecks) != 0 {
		t.Fatalf("expected no failed checks, got %v", failedNames(result))
	}
}

func TestScoreWorkedExample(t *testing.T) {
	// step-sequence 3/3, gate-compliance 3/4, artifact-presence 3/4,
	// audit-integrity 3/3 combine to 0.875.
	builder := newTrail().
		add(schemarun.AuditStepStarted, 0, nil).
		commit(0, artifact.KindCharter, 1).
		add(schemarun.AuditStepCompleted, 0, nil)
	for step := 1; step <= 3; step++ {
		builder.gateSequence(step).add(schemarun.AuditStepStarted, step, nil)
		if step == 2 {
			builder.commit(2, artifact.KindOutline, 1)
		}
		// Step 3 completes without committing a full_draft.
		builder.add(schemarun.AuditStepCompleted, step, nil)
	}
	builder.add(schemarun.AuditOverride, 3, nil) // override with no rationale

	result, err := Score(builder.entries)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if math.Abs(result.Score-0.875) > 1e-9 {
		t.Fatalf("expected 0.875, got %.6f (failed: %v)", result.Score, failedNames(result))
	}
	wantFailed := []string{CheckFullDraftPresent, CheckOverridesHaveRationale}
	if diff := cmp.Diff(wantFailed, failedNames(result)); diff != "" {
		t.Fatalf("failed check mismatch (-want +got):\n%s", diff)
	}
	for _, failed := range result.FailedChecks {
		if failed.Remediation == "" {
			t.Fatalf("failed check %s has no remediation", failed.Name)
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	entries := cleanTrailThroughDraft()
	first, err := Score(entries)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	second, err := Score(entries)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("identical input produced different output (-first +second):\n%s", diff)
	}
}

func TestScoreEmptyTrailIsExplicitError(t *testing.T) {
	_, err := Score(nil)
	if err == nil {
		t.Fatal("expected error for empty trail")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryStateUnavailable {
		t.Fatalf("unexpected category %s", coreerrors.CategoryOf(err))
	}
}

func TestArtifactPresenceVacuousForUnreachedSteps(t *testing.T) {
	entries := newTrail().
		add(schemarun.AuditStepStarted, 0, nil).
		commit(0, artifact.KindCharter, 1).
		add(schemarun.AuditStepCompleted, 0, nil).
		entries
	result, err := Score(entries)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	for _, name := range failedNames(result) {
		if name == CheckOutlinePresent || name == CheckFullDraftPresent || name == CheckReleaseManifestPresent {
			t.Fatalf("presence check %s should be vacuously satisfied before its step completes", name)
		}
	}
}

func TestStepSequenceViolations(t *testing.T) {
	t.Run("skipped step", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditStepStarted, 0, nil).
			add(schemarun.AuditStepStarted, 2, nil).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckNoSkippedSteps}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})

	t.Run("backward without rollback", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditStepStarted, 0, nil).
			add(schemarun.AuditStepStarted, 1, nil).
			add(schemarun.AuditStepStarted, 0, nil).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckStepsInOrder}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})

	t.Run("backward with rollback passes", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditStepStarted, 0, nil).
			add(schemarun.AuditStepStarted, 1, nil).
			add(schemarun.AuditRollback, 0, func(entry *schemarun.AuditEntry) { entry.Rationale = "charter revision requested" }).
			add(schemarun.AuditStepStarted, 0, nil).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if len(result.FailedChecks) != 0 {
			t.Fatalf("expected clean result, got %v", failedNames(result))
		}
	})
}

func TestGateComplianceViolations(t *testing.T) {
	t.Run("gate opened without approval", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditMetricEvaluation, 1, nil).
			add(schemarun.AuditGateDecision, 1, func(entry *schemarun.AuditEntry) { entry.Decision = "open" }).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckApprovalsObtained}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})

	t.Run("halt never shown", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditHaltTriggered, 2, nil).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckHaltsSurfaced}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})
}

func TestAuditIntegrityViolations(t *testing.T) {
	t.Run("version gap", func(t *testing.T) {
		entries := newTrail().
			commit(3, artifact.KindSectionDraft, 1).
			commit(3, artifact.KindSectionDraft, 3).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckVersionsContiguous}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})

	t.Run("missing timestamp", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditStepStarted, 0, func(entry *schemarun.AuditEntry) { entry.At = time.Time{} }).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckDecisionsTimestamped}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})

	t.Run("gate decision without metric evaluation", func(t *testing.T) {
		entries := newTrail().
			add(schemarun.AuditApprovalGranted, 1, nil).
			add(schemarun.AuditGateDecision, 1, func(entry *schemarun.AuditEntry) { entry.Decision = "open" }).
			entries
		result, err := Score(entries)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if diff := cmp.Diff([]string{CheckMetricEvaluationsLog}, failedNames(result)); diff != "" {
			t.Fatalf("unexpected failures (-want +got):\n%s", diff)
		}
	})
}
