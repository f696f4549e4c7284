package store

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Merlins-Owl/Method-VI-sub002/core/digest"
	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// Finding is one verification failure. Verification never stops at the
// first finding; the report lists everything wrong.
type Finding struct {
	Code       string `json:"code"`
	ArtifactID string `json:"artifact_id,omitempty"`
	Seq        int    `json:"seq,omitempty"`
	Message    string `json:"message"`
}

// VerifyReport is the outcome of re-verifying a run's persisted state.
type VerifyReport struct {
	RunID     string    `json:"run_id"`
	Artifacts int       `json:"artifacts"`
	Entries   int       `json:"entries"`
	Findings  []Finding `json:"findings,omitempty"`
	Valid     bool      `json:"valid"`
}

// VerifyRun re-hashes every stored artifact body against its envelope
// digest and re-walks the audit chain. Artifact hashing fans out across
// CPUs; the chain walk is inherently sequential.
func (store *Store) VerifyRun(ctx context.Context, runID string) (VerifyReport, error) {
	if err := store.requireRun(runID); err != nil {
		return VerifyReport{}, err
	}
	envelopes, err := store.Artifacts(runID)
	if err != nil {
		return VerifyReport{}, err
	}
	trail, err := store.LoadTrail(runID)
	if err != nil {
		return VerifyReport{}, err
	}

	report := VerifyReport{RunID: runID, Artifacts: len(envelopes), Entries: len(trail)}

	var mu sync.Mutex
	addFinding := func(finding Finding) {
		mu.Lock()
		defer mu.Unlock()
		report.Findings = append(report.Findings, finding)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for _, envelope := range envelopes {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			stored, content, err := store.ArtifactContent(runID, envelope.ArtifactID)
			if err != nil {
				return err
			}
			if computed := digest.Content(content); computed != stored.ContentDigest {
				addFinding(Finding{
					Code:       "content_digest_mismatch",
					ArtifactID: stored.ArtifactID,
					Message:    fmt.Sprintf("envelope records %s but content hashes to %s", stored.ContentDigest, computed),
				})
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return VerifyReport{}, err
	}

	report.Findings = append(report.Findings, verifyChain(runID, trail)...)

	sort.Slice(report.Findings, func(leftIndex, rightIndex int) bool {
		left, right := report.Findings[leftIndex], report.Findings[rightIndex]
		if left.Seq != right.Seq {
			return left.Seq < right.Seq
		}
		if left.ArtifactID != right.ArtifactID {
			return left.ArtifactID < right.ArtifactID
		}
		return left.Code < right.Code
	})
	report.Valid = len(report.Findings) == 0
	return report, nil
}

// verifyChain recomputes every entry digest and checks the prev-digest
// links and sequence numbering.
func verifyChain(runID string, trail []schemarun.AuditEntry) []Finding {
	var findings []Finding
	previousDigest := ""
	for position, entry := range trail {
		if entry.Seq != position+1 {
			findings = append(findings, Finding{
				Code: "sequence_gap", Seq: entry.Seq,
				Message: fmt.Sprintf("expected seq %d, found %d", position+1, entry.Seq),
			})
		}
		if entry.PrevDigest != previousDigest {
			findings = append(findings, Finding{
				Code: "chain_link_broken", Seq: entry.Seq,
				Message: fmt.Sprintf("prev digest %s does not match predecessor %s", entry.PrevDigest, previousDigest),
			})
		}
		recomputed, err := recomputeEntryDigest(entry)
		if err != nil {
			findings = append(findings, Finding{
				Code: "entry_unhashable", Seq: entry.Seq,
				Message: err.Error(),
			})
		} else if recomputed != entry.EntryDigest {
			findings = append(findings, Finding{
				Code: "entry_digest_mismatch", Seq: entry.Seq,
				Message: fmt.Sprintf("stored digest %s, recomputed %s", entry.EntryDigest, recomputed),
			})
		}
		if entry.RunID != runID {
			findings = append(findings, Finding{
				Code: "run_mismatch", Seq: entry.Seq,
				Message: fmt.Sprintf("entry belongs to run %s", entry.RunID),
			})
		}
		previousDigest = entry.EntryDigest
	}
	return findings
}

func recomputeEntryDigest(entry schemarun.AuditEntry) (string, error) {
	stripped := entry
	stripped.EntryDigest = ""
	chainInput, err := json.Marshal(stripped)
	if err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("marshal audit entry: %w", err),
			coreerrors.CategoryInternalFailure, "audit_marshal_failed", "", false)
	}
	return digest.Chain(entry.PrevDigest, chainInput)
}
