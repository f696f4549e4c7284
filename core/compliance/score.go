package compliance

import (
	"fmt"
	"sort"

	"github.com/Merlins-Owl/Method-VI-sub002/core/artifact"
	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// Category names and weights. Weights sum to 1.0.
const (
	CategoryStepSequence     = "step_sequence"
	CategoryGateCompliance   = "gate_compliance"
	CategoryArtifactPresence = "artifact_presence"
	CategoryAuditIntegrity   = "audit_integrity"

	weightStepSequence     = 0.25
	weightGateCompliance   = 0.30
	weightArtifactPresence = 0.20
	weightAuditIntegrity   = 0.25
)

// Check names, stable identifiers used for remediation lookup.
const (
	CheckStepsInOrder           = "steps_in_order"
	CheckNoSkippedSteps         = "no_skipped_steps"
	CheckRollbacksRecorded      = "rollbacks_recorded"
	CheckApprovalsObtained      = "approvals_obtained"
	CheckHaltsSurfaced          = "halts_surfaced"
	CheckOverridesHaveRationale = "overrides_have_rationale"
	CheckGateDecisionsRecorded  = "gate_decisions_recorded"
	CheckCharterPresent         = "charter_present"
	CheckOutlinePresent         = "outline_present"
	CheckFullDraftPresent       = "full_draft_present"
	CheckReleaseManifestPresent = "release_manifest_present"
	CheckMetricEvaluationsLog   = "metric_evaluations_logged"
	CheckDecisionsTimestamped   = "decisions_timestamped"
	CheckVersionsContiguous     = "artifact_versions_contiguous"
)

// remediations is the fixed, deterministic check-name to remediation-text
// lookup that keeps scoring results self-explanatory.
var remediations = map[string]string{
	CheckStepsInOrder:           "replay the run and execute steps in ascending order; record a rollback entry before revisiting an earlier step",
	CheckNoSkippedSteps:         "complete each workflow step before starting the next; backfill any skipped step",
	CheckRollbacksRecorded:      "record a rationale on every rollback entry so backward transitions stay auditable",
	CheckApprovalsObtained:      "obtain an approval entry before opening a gate; re-run the gate with the approval recorded",
	CheckHaltsSurfaced:          "surface every automatic halt to the user and record the halt_shown entry",
	CheckOverridesHaveRationale: "add a written rationale to every manual override entry",
	CheckGateDecisionsRecorded:  "record a gate decision entry for every completed step past the charter",
	CheckCharterPresent:         "commit the charter artifact produced by step 0",
	CheckOutlinePresent:         "commit the outline artifact produced by step 2",
	CheckFullDraftPresent:       "commit the full_draft artifact produced by step 3",
	CheckReleaseManifestPresent: "commit the release_manifest artifact produced by step 6",
	CheckMetricEvaluationsLog:   "log a metric evaluation entry before each gate decision",
	CheckDecisionsTimestamped:   "timestamp every audit entry; reject writes with a zero time",
	CheckVersionsContiguous:     "renumber artifact versions per kind so they are contiguous from 1 with no gaps",
}

// Remediation returns the fixed remediation text for a check name.
func Remediation(checkName string) string {
	return remediations[checkName]
}

// CheckResult is one named boolean check with its human-readable detail.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

/// CategoryBreakdown is the per-category view: passed/total and the weighted
// contribution to the overall score.
type CategoryBreakdown struct {
	Name   string        `json:"name"`
	Weight float64       `json:"weight"`
	Passed int           `json:"passed"`
	Total  int           `json:"total"`
	Score  float64       `json:"score"`
	Checks []CheckResult `json:"checks"`
}

// FailedCheck pairs a failed check with its remediation.
type FailedCheck struct {
	Name        string `json:"name"`
	Remediation string `json:"remediation"`
}

// Result is the deterministic output of one compliance evaluation.
type Result struct {
	Score        float64             `json:"score"`
	Categories   []CategoryBreakdown `json:"categories"`
	FailedChecks []FailedCheck       `json:"failed_checks,omitempty"`
}

// Score computes the weighted compliance checklist over an ordered audit
// trail. Identical input always yields identical output; an absent trail is
// an explicit error, never a defaulted passing score.
func Score(entries []schemarun.AuditEntry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, coreerrors.Wrap(
			fmt.Errorf("audit trail is empty or unavailable"),
			coreerrors.CategoryStateUnavailable, "audit_trail_unavailable",
			"compliance scoring needs the persisted audit trail", true)
	}

	categories := []CategoryBreakdown{
		buildCategory(CategoryStepSequence, weightStepSequence, stepSequenceChecks(entries)),
		buildCategory(CategoryGateCompliance, weightGateCompliance, gateComplianceChecks(entries)),
		buildCategory(CategoryArtifactPresence, weightArtifactPresence, artifactPresenceChecks(entries)),
		buildCategory(CategoryAuditIntegrity, weightAuditIntegrity, auditIntegrityChecks(entries)),
	}

	var overall float64
	var failed []FailedCheck
	for _, category := range categories {
		overall += category.Weight * category.Score
		for _, check := range category.Checks {
			if !check.Passed {
				failed = append(failed, FailedCheck{Name: check.Name, Remediation: Remediation(check.Name)})
			}
		}
	}
	sort.Slice(failed, func(leftIndex, rightIndex int) bool {
		return failed[leftIndex].Name < failed[rightIndex].Name
	})

	return Result{Score: overall, Categories: categories, FailedChecks: failed}, nil
}

func buildCategory(name string, weight float64, checks []CheckResult) CategoryBreakdown {
	passed := 0
	for _, check := range checks {
		if check.Passed {
			passed++
		}
	}
	score := 0.0
	if len(checks) > 0 {
		score = float64(passed) / float64(len(checks))
	}
	return CategoryBreakdown{
		Name:   name,
		Weight: weight,
		Passed: passed,
		Total:  len(checks),
		Score:  score,
		Checks: checks,
	}
}

func stepSequenceChecks(entries []schemarun.AuditEntry) []CheckResult {
	inOrder := CheckResult{Name: CheckStepsInOrder, Passed: true, Detail: "steps executed in non-decreasing order"}
	noSkips := CheckResult{Name: CheckNoSkippedSteps, Passed: true, Detail: "no step started before its predecessor"}
	rollbacks := CheckResult{Name: CheckRollbacksRecorded, Passed: true, Detail: "every rollback carries a rationale"}

	started := map[int]bool{}
	lastStarted := -1
	rollbackSinceLastStart := false
	for _, entry := range entries {
		switch entry.Kind {
		case schemarun.AuditRollback:
			rollbackSinceLastStart = true
			if entry.Rationale == "" {
				rollbacks.Passed = false
				rollbacks.Detail = fmt.Sprintf("rollback at seq %d has no rationale", entry.Seq)
			}
		case schemarun.AuditStepStarted:
			if entry.Step < lastStarted && !rollbackSinceLastStart {
				inOrder.Passed = false
				inOrder.Detail = fmt.Sprintf("step %d started after step %d without a rollback entry", entry.Step, lastStarted)
			}
			if entry.Step > 0 && !started[entry.Step-1] && entry.Step > lastStarted+1 {
				noSkips.Passed = false
				noSkips.Detail = fmt.Sprintf("step %d started but step %d was never started", entry.Step, entry.Step-1)
			}
			started[entry.Step] = true
			lastStarted = entry.Step
			rollbackSinceLastStart = false
		}
	}
	return []CheckResult{inOrder, noSkips, rollbacks}
}

func gateComplianceChecks(entries []schemarun.AuditEntry) []CheckResult {
	approvals := CheckResult{Name: CheckApprovalsObtained, Passed: true, Detail: "every opened gate has a prior approval"}
	halts := CheckResult{Name: CheckHaltsSurfaced, Passed: true, Detail: "every automatic halt was shown to the user"}
	overrides := CheckResult{Name: CheckOverridesHaveRationale, Passed: true, Detail: "every manual override carries a rationale"}
	decisions := CheckResult{Name: CheckGateDecisionsRecorded, Passed: true, Detail: "every completed step past the charter has a gate decision"}

	approvedSteps := map[int]bool{}
	decidedSteps := map[int]bool{}
	for index, entry := range entries {
		switch entry.Kind {
		case schemarun.AuditApprovalGranted:
			approvedSteps[entry.Step] = true
		case schemarun.AuditGateDecision:
			decidedSteps[entry.Step] = true
			if entry.Decision == "open" && !approvedSteps[entry.Step] {
				approvals.Passed = false
				approvals.Detail = fmt.Sprintf("gate for step %d opened without a recorded approval", entry.Step)
			}
		case schemarun.AuditHaltTriggered:
			shown := false
			for _, later := range entries[index+1:] {
				if later.Kind == schemarun.AuditHaltShown && later.Step == entry.Step {
					shown = true
					break
				}
			}
			if !shown {
				halts.Passed = false
				halts.Detail = fmt.Sprintf("halt at step %d was never shown to the user", entry.Step)
			}
		case schemarun.AuditOverride:
			if entry.Rationale == "" {
				overrides.Passed = false
				overrides.Detail = fmt.Sprintf("override at seq %d has no rationale", entry.Seq)
			}
		case schemarun.AuditStepCompleted:
			if entry.Step >= 1 && !decidedSteps[entry.Step] {
				decisions.Passed = false
				decisions.Detail = fmt.Sprintf("step %d completed without a gate decision", entry.Step)
			}
		}
	}
	return []CheckResult{approvals, halts, overrides, decisions}
}

// requiredArtifacts keys presence checks by artifact kind, not by loose name
// matching, so an unrelated artifact cannot satisfy a step's requirement.
var requiredArtifacts = []struct {
	check string
	step  int
	kind  string
}{
	{CheckCharterPresent, schemarun.StepCharter, artifact.KindCharter},
	{CheckOutlinePresent, schemarun.StepOutline, artifact.KindOutline},
	{CheckFullDraftPresent, schemarun.StepDraft, artifact.KindFullDraft},
	{CheckReleaseManifestPresent, schemarun.StepRelease, artifact.KindReleaseManifest},
}

func artifactPresenceChecks(entries []schemarun.AuditEntry) []CheckResult {
	completed := map[int]bool{}
	committedKinds := map[string]bool{}
	for _, entry := range entries {
		switch entry.Kind {
		case schemarun.AuditStepCompleted:
			completed[entry.Step] = true
		case schemarun.AuditArtifactCommit:
			committedKinds[entry.ArtifactKind] = true
		}
	}

	checks := make([]CheckResult, 0, len(requiredArtifacts))
	for _, required := range requiredArtifacts {
		check := CheckResult{Name: required.check, Passed: true}
		switch {
		case !completed[required.step]:
			check.Detail = fmt.Sprintf("step %d not yet completed; %s requirement vacuously satisfied", required.step, required.kind)
		case committedKinds[required.kind]:
			check.Detail = fmt.Sprintf("%s committed for completed step %d", required.kind, required.step)
		default:
			check.Passed = false
			check.Detail = fmt.Sprintf("step %d completed but no %s artifact was committed", required.step, required.kind)
		}
		checks = append(checks, check)
	}
	return checks
}

func auditIntegrityChecks(entries []schemarun.AuditEntry) []CheckResult {
	metricsLogged := CheckResult{Name: CheckMetricEvaluationsLog, Passed: true, Detail: "every gate decision follows a logged metric evaluation"}
	timestamps := CheckResult{Name: CheckDecisionsTimestamped, Passed: true, Detail: "every audit entry is timestamped"}
	versions := CheckResult{Name: CheckVersionsContiguous, Passed: true, Detail: "artifact versions are contiguous per kind"}

	evaluatedSteps := map[int]bool{}
	versionsByKind := map[string][]int{}
	for _, entry := range entries {
		if entry.At.IsZero() {
			timestamps.Passed = false
			timestamps.Detail = fmt.Sprintf("entry at seq %d has no timestamp", entry.Seq)
		}
		switch entry.Kind {
		case schemarun.AuditMetricEvaluation:
			evaluatedSteps[entry.Step] = true
		case schemarun.AuditGateDecision:
			if !evaluatedSteps[entry.Step] {
				metricsLogged.Passed = false
				metricsLogged.Detail = fmt.Sprintf("gate decision for step %d has no prior metric evaluation", entry.Step)
			}
		case schemarun.AuditArtifactCommit:
			if entry.ArtifactVersion > 0 {
				versionsByKind[entry.ArtifactKind] = append(versionsByKind[entry.ArtifactKind], entry.ArtifactVersion)
			}
		}
	}

	kinds := make([]string, 0, len(versionsByKind))
	for kind := range versionsByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		versionList := versionsByKind[kind]
		sort.Ints(versionList)
		for index, version := range versionList {
			if version != index+1 {
				versions.Passed = false
				versions.Detail = fmt.Sprintf("kind %s has version gap: expected %d, found %d", kind, index+1, version)
				break
			}
		}
	}
	return []CheckResult{metricsLogged, timestamps, versions}
}
