package run

import "time"

const (
	ArtifactSchemaID      = "methodvi.run.artifact"
	AuditEntrySchemaID    = "methodvi.run.audit_entry"
	CalloutSchemaID       = "methodvi.run.callout"
	ModeDetectionSchemaID = "methodvi.run.mode_detection"
	SchemaVersion1        = "1.0.0"
)

// Step numbers for the seven-step Method VI workflow.
const (
	StepCharter    = 0
	StepFraming    = 1
	StepOutline    = 2
	StepDraft      = 3
	StepRevision   = 4
	StepValidation = 5
	StepRelease    = 6

	StepMin = StepCharter
	StepMax = StepRelease
)

// Artifact is the envelope of one unit of work output. The content body
// travels separately; ContentDigest binds the envelope to it.
type Artifact struct {
	SchemaID       string    `json:"schema_id"`
	SchemaVersion  string    `json:"schema_version"`
	ArtifactID     string    `json:"artifact_id"`
	RunID          string    `json:"run_id"`
	Kind           string    `json:"kind"`
	Step           int       `json:"step"`
	CreatedAt      time.Time `json:"created_at"`
	ContentDigest  string    `json:"content_digest"`
	ParentDigest   string    `json:"parent_digest,omitempty"`
	DependsOn      []string  `json:"depends_on,omitempty"`
	Immutable      bool      `json:"immutable,omitempty"`
	Author         string    `json:"author"`
	GovernanceRole string    `json:"governance_role,omitempty"`
	Version        int       `json:"version,omitempty"`
}

// MetricStatus is the raw classification of one metric evaluation before
// callout tiering.
type MetricStatus string

const (
	MetricPass    MetricStatus = "pass"
	MetricWarning MetricStatus = "warning"
	MetricFail    MetricStatus = "fail"
)

// MetricResult carries one classified metric evaluation into callout
// generation. Explanation and Recommendation are caller-supplied text.
type MetricResult struct {
	Metric           string       `json:"metric"`
	Status           MetricStatus `json:"status"`
	Value            float64      `json:"value"`
	Previous         *float64     `json:"previous,omitempty"`
	ThresholdContext string       `json:"threshold_context,omitempty"`
	Explanation      string       `json:"explanation,omitempty"`
	Recommendation   string       `json:"recommendation,omitempty"`
}

// Mode is one of three ordered maturity categories detected from the
// baseline coherence score.
type Mode string

const (
	ModeArchitecting Mode = "architecting"
	ModeBuilder      Mode = "builder"
	ModeRefining     Mode = "refining"
)

// ModeDetection is the write-once result of baseline mode detection.
type ModeDetection struct {
	SchemaID      string    `json:"schema_id"`
	SchemaVersion string    `json:"schema_version"`
	RunID         string    `json:"run_id"`
	Mode          Mode      `json:"mode"`
	BaselineScore float64   `json:"baseline_score"`
	Confidence    float64   `json:"confidence"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Tier is one of four ordered callout severities.
type Tier string

const (
	TierInformational Tier = "informational"
	TierMinor         Tier = "minor"
	TierImportant     Tier = "important"
	TierBlocking      Tier = "blocking"
)

// Callout is a severity-tagged notice derived from one metric evaluation.
// PreFilterTier keeps the tier assigned before any mode-aware demotion.
type Callout struct {
	SchemaID         string     `json:"schema_id"`
	SchemaVersion    string     `json:"schema_version"`
	CalloutID        string     `json:"callout_id"`
	RunID            string     `json:"run_id"`
	Step             int        `json:"step"`
	Tier             Tier       `json:"tier"`
	PreFilterTier    Tier       `json:"pre_filter_tier"`
	Metric           string     `json:"metric"`
	Value            float64    `json:"value"`
	Previous         *float64   `json:"previous,omitempty"`
	Delta            float64    `json:"delta"`
	ThresholdContext string     `json:"threshold_context,omitempty"`
	Explanation      string     `json:"explanation,omitempty"`
	Recommendation   string     `json:"recommendation,omitempty"`
	RequiresAck      bool       `json:"requires_ack"`
	Acknowledged     bool       `json:"acknowledged"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	Confirmation     string     `json:"confirmation,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CalloutSummary is the polling view consumed by the UI and the
// step-transition controller.
type CalloutSummary struct {
	RunID         string       `json:"run_id"`
	Total         int          `json:"total"`
	ByTier        map[Tier]int `json:"by_tier"`
	PendingAck    int          `json:"pending_ack"`
	PendingIDs    []string     `json:"pending_ids,omitempty"`
	CanProceed    bool         `json:"can_proceed"`
	LatestStep    int          `json:"latest_step"`
	UniqueMetrics int          `json:"unique_metrics"`
}

// AuditKind enumerates audit trail entry kinds.
type AuditKind string

const (
	AuditStepStarted      AuditKind = "step_started"
	AuditStepCompleted    AuditKind = "step_completed"
	AuditRollback         AuditKind = "rollback"
	AuditApprovalGranted  AuditKind = "approval_granted"
	AuditGateDecision     AuditKind = "gate_decision"
	AuditHaltTriggered    AuditKind = "halt_triggered"
	AuditHaltShown        AuditKind = "halt_shown"
	AuditOverride         AuditKind = "override"
	AuditMetricEvaluation AuditKind = "metric_evaluation"
	AuditArtifactCommit   AuditKind = "artifact_committed"
)

// AuditEntry is one hash-chained record of the run's audit trail.
// EntryDigest covers the canonical JSON of the entry with PrevDigest set and
// EntryDigest itself cleared.
type AuditEntry struct {
	SchemaID        string    `json:"schema_id"`
	SchemaVersion   string    `json:"schema_version"`
	RunID           string    `json:"run_id"`
	Seq             int       `json:"seq"`
	Kind            AuditKind `json:"kind"`
	Step            int       `json:"step"`
	At              time.Time `json:"at"`
	Metric          string    `json:"metric,omitempty"`
	Decision        string    `json:"decision,omitempty"`
	Rationale       string    `json:"rationale,omitempty"`
	ArtifactKind    string    `json:"artifact_kind,omitempty"`
	ArtifactVersion int       `json:"artifact_version,omitempty"`
	PrevDigest      string    `json:"prev_digest,omitempty"`
	EntryDigest     string    `json:"entry_digest,omitempty"`
}
