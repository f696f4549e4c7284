package artifact

import (
	"fmt"
	"strings"

	"github.com/Merlins-Owl/Method-VI-sub002/core/digest"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// Violation codes. Every failed check maps to exactly one code.
const (
	CodeMissingField          = "missing_field"
	CodeInvalidValue          = "invalid_value"
	CodeDuplicateArtifactID   = "duplicate_artifact_id"
	CodeHashMismatch          = "hash_mismatch"
	CodeRootHasParent         = "root_has_parent"
	CodeOrphanArtifact        = "orphan_artifact"
	CodeDependencyNotFound    = "dependency_not_found"
	CodeCircularDependency    = "circular_dependency"
	CodeImmutableKindViolated = "immutable_kind_violation"
	CodeImmutableModification = "immutable_modification"
)

// Violation describes one failed envelope check. Validation always returns
// the complete list, never just the first failure.
type Violation struct {
	Code      string   `json:"code"`
	Field     string   `json:"field,omitempty"`
	Message   string   `json:"message"`
	Expected  string   `json:"expected,omitempty"`
	Actual    string   `json:"actual,omitempty"`
	CyclePath []string `json:"cycle_path,omitempty"`
}

// Validate runs every envelope check against the run's accepted index and
// returns the full violation list. An empty result means the artifact is
// accepted; the caller is then responsible for index.Accept and persistence.
// Pure: no side effects, no I/O, no locking.
func Validate(envelope schemarun.Artifact, content []byte, index Index) []Violation {
	var violations []Violation

	violations = append(violations, checkFields(envelope)...)
	violations = append(violations, checkUniqueness(envelope, index)...)
	violations = append(violations, checkHash(envelope, content)...)
	violations = append(violations, checkParent(envelope, index)...)
	violations = append(violations, checkDependencies(envelope, index)...)
	violations = append(violations, checkAcyclic(envelope, index)...)
	violations = append(violations, checkImmutability(envelope, index)...)

	return violations
}

func checkFields(envelope schemarun.Artifact) []Violation {
	var violations []Violation
	if strings.TrimSpace(envelope.ArtifactID) == "" {
		violations = append(violations, Violation{
			Code:    CodeMissingField,
			Field:   "artifact_id",
			Message: "artifact_id must not be empty",
		})
	}
	if strings.TrimSpace(envelope.RunID) == "" {
		violations = append(violations, Violation{
			Code:    CodeMissingField,
			Field:   "run_id",
			Message: "run_id must not be empty",
		})
	}
	if envelope.Step < schemarun.StepMin || envelope.Step > schemarun.StepMax {
		violations = append(violations, Violation{
			Code:     CodeInvalidValue,
			Field:    "step",
			Message:  fmt.Sprintf("step %d outside range [%d,%d]", envelope.Step, schemarun.StepMin, schemarun.StepMax),
			Expected: fmt.Sprintf("[%d,%d]", schemarun.StepMin, schemarun.StepMax),
			Actual:   fmt.Sprintf("%d", envelope.Step),
		})
	}
	if !KnownKind(envelope.Kind) {
		violations = append(violations, Violation{
			Code:    CodeInvalidValue,
			Field:   "kind",
			Message: fmt.Sprintf("kind %q is not in the closed artifact kind set", envelope.Kind),
			Actual:  envelope.Kind,
		})
	}
	if strings.TrimSpace(envelope.ContentDigest) == "" {
		violations = append(violations, Violation{
			Code:    CodeMissingField,
			Field:   "content_digest",
			Message: "content_digest must not be empty",
		})
	}
	return violations
}

func checkUniqueness(envelope schemarun.Artifact, index Index) []Violation {
	if envelope.ArtifactID == "" {
		return nil
	}
	if _, exists := index.Digests[envelope.ArtifactID]; !exists {
		return nil
	}
	return []Violation{{
		Code:    CodeDuplicateArtifactID,
		Field:   "artifact_id",
		Message: fmt.Sprintf("artifact id %q already exists in this run", envelope.ArtifactID),
		Actual:  envelope.ArtifactID,
	}}
}

func checkHash(envelope schemarun.Artifact, content []byte) []Violation {
	if strings.TrimSpace(envelope.ContentDigest) == "" {
		return nil
	}
	computed := digest.Content(content)
	if strings.EqualFold(computed, envelope.ContentDigest) {
		return nil
	}
	return []Violation{{
		Code:     CodeHashMismatch,
		Field:    "content_digest",
		Message:  fmt.Sprintf("stored digest %s does not match computed digest %s", envelope.ContentDigest, computed),
		Expected: strings.ToLower(envelope.ContentDigest),
		Actual:   computed,
	}}
}

func checkParent(envelope schemarun.Artifact, index Index) []Violation {
	if envelope.Kind == RootKind {
		if envelope.ParentDigest == "" {
			return nil
		}
		return []Violation{{
			Code:    CodeRootHasParent,
			Field:   "parent_digest",
			Message: fmt.Sprintf("%s artifacts must not declare a parent", RootKind),
			Actual:  envelope.ParentDigest,
		}}
	}
	if !KnownKind(envelope.Kind) {
		// The kind violation already covers this envelope; parent rules for
		// unknown kinds are undefined.
		return nil
	}
	if envelope.ParentDigest == "" {
		return []Violation{{
			Code:    CodeOrphanArtifact,
			Field:   "parent_digest",
			Message: fmt.Sprintf("kind %q requires a parent digest", envelope.Kind),
		}}
	}
	if _, accepted := index.AcceptedDigests[strings.ToLower(envelope.ParentDigest)]; !accepted {
		if _, acceptedExact := index.AcceptedDigests[envelope.ParentDigest]; !acceptedExact {
			return []Violation{{
				Code:    CodeOrphanArtifact,
				Field:   "parent_digest",
				Message: fmt.Sprintf("parent digest %s does not match any accepted artifact in this run", envelope.ParentDigest),
				Actual:  envelope.ParentDigest,
			}}
		}
	}
	return nil
}

func checkDependencies(envelope schemarun.Artifact, index Index) []Violation {
	var violations []Violation
	for _, dependencyID := range envelope.DependsOn {
		if _, exists := index.Digests[dependencyID]; exists {
			continue
		}
		violations = append(violations, Violation{
			Code:    CodeDependencyNotFound,
			Field:   "depends_on",
			Message: fmt.Sprintf("dependency %q does not exist in this run", dependencyID),
			Actual:  dependencyID,
		})
	}
	return violations
}

func checkImmutability(envelope schemarun.Artifact, index Index) []Violation {
	var violations []Violation
	if envelope.Immutable && !ImmutableKind(envelope.Kind) {
		violations = append(violations, Violation{
			Code:    CodeImmutableKindViolated,
			Field:   "immutable",
			Message: fmt.Sprintf("kind %q may not carry the immutability flag", envelope.Kind),
			Actual:  envelope.Kind,
		})
	}
	lockedDigest, locked := index.ImmutableDigests[envelope.ArtifactID]
	if locked && !strings.EqualFold(lockedDigest, envelope.ContentDigest) {
		violations = append(violations, Violation{
			Code:     CodeImmutableModification,
			Field:    "content_digest",
			Message:  fmt.Sprintf("artifact id %q is locked immutable with digest %s", envelope.ArtifactID, lockedDigest),
			Expected: lockedDigest,
			Actual:   envelope.ContentDigest,
		})
	}
	return violations
}
