package artifact

import schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"

// Index is the caller-owned view of a run's already-accepted artifacts.
// Validation reads it; callers update it with Accept only after an artifact
// passes every check. The validator itself never mutates it.
type Index struct {
	// Digests maps accepted artifact ids to their content digests.
	Digests map[string]string
	// AcceptedDigests is the set of accepted content digests, used for
	// parent linkage.
	AcceptedDigests map[string]struct{}
	// ImmutableDigests maps ids locked by an immutable-kind acceptance to
	// the digest recorded at lock time.
	ImmutableDigests map[string]string
	// Dependencies holds the accumulated dependency graph: artifact id to
	// the ids it depends on.
	Dependencies map[string][]string
}

// NewIndex returns an empty index for a fresh run.
func NewIndex() Index {
	return Index{
		Digests:          map[string]string{},
		AcceptedDigests:  map[string]struct{}{},
		ImmutableDigests: map[string]string{},
		Dependencies:     map[string][]string{},
	}
}

// Accept records a validated artifact in the index. Callers must only pass
// envelopes for which Validate returned no violations.
func (index *Index) Accept(envelope schemarun.Artifact) {
	index.Digests[envelope.ArtifactID] = envelope.ContentDigest
	index.AcceptedDigests[envelope.ContentDigest] = struct{}{}
	if envelope.Immutable {
		index.ImmutableDigests[envelope.ArtifactID] = envelope.ContentDigest
	}
	if len(envelope.DependsOn) > 0 {
		dependencies := make([]string, len(envelope.DependsOn))
		copy(dependencies, envelope.DependsOn)
		index.Dependencies[envelope.ArtifactID] = dependencies
	}
}
