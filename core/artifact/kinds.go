package artifact

// The closed set of artifact kinds the Method VI workflow produces, with
// the step each kind originates from.
const (
	KindCharter            = "charter"
	KindBaselineAssessment = "baseline_assessment"
	KindPremiseBrief       = "premise_brief"
	KindResearchDigest     = "research_digest"
	KindAudienceProfile    = "audience_profile"
	KindOutline            = "outline"
	KindSectionPlan        = "section_plan"
	KindSectionDraft       = "section_draft"
	KindFullDraft          = "full_draft"
	KindRevisionNote       = "revision_note"
	KindRevisionDraft      = "revision_draft"
	KindCritiqueMemo       = "critique_memo"
	KindAlignmentReport    = "alignment_report"
	KindEvidenceMap        = "evidence_map"
	KindCoherenceReport    = "coherence_report"
	KindComplianceReport   = "compliance_report"
	KindReleaseManifest    = "release_manifest"
)

// RootKind is the single kind allowed to omit a parent digest.
const RootKind = KindCharter

var knownKinds = map[string]struct{}{
	KindCharter:            {},
	KindBaselineAssessment: {},
	KindPremiseBrief:       {},
	KindResearchDigest:     {},
	KindAudienceProfile:    {},
	KindOutline:            {},
	KindSectionPlan:        {},
	KindSectionDraft:       {},
	KindFullDraft:          {},
	KindRevisionNote:       {},
	KindRevisionDraft:      {},
	KindCritiqueMemo:       {},
	KindAlignmentReport:    {},
	KindEvidenceMap:        {},
	KindCoherenceReport:    {},
	KindComplianceReport:   {},
	KindReleaseManifest:    {},
}

var immutableKinds = map[string]struct{}{
	KindCharter:          {},
	KindAlignmentReport:  {},
	KindCoherenceReport:  {},
	KindComplianceReport: {},
	KindReleaseManifest:  {},
}

// KnownKind reports whether kind belongs to the closed set.
func KnownKind(kind string) bool {
	_, ok := knownKinds[kind]
	return ok
}

// ImmutableKind reports whether kind may carry the immutability flag.
func ImmutableKind(kind string) bool {
	_, ok := immutableKinds[kind]
	return ok
}

// Kinds returns the closed kind set in stable sorted order.
func Kinds() []string {
	return []string{
		KindAlignmentReport,
		KindAudienceProfile,
		KindBaselineAssessment,
		KindCharter,
		KindCoherenceReport,
		KindComplianceReport,
		KindCritiqueMemo,
		KindEvidenceMap,
		KindFullDraft,
		KindOutline,
		KindPremiseBrief,
		KindReleaseManifest,
		KindResearchDigest,
		KindRevisionDraft,
		KindRevisionNote,
		KindSectionDraft,
		KindSectionPlan,
	}
}
