package callout

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// Manager owns one run's callout collection. The collection is a single
// mutually-exclusive resource: every mutation and every read that feeds a
// gating decision holds the same mutex, so a progression check never
// observes a partially applied acknowledgment.
type Manager struct {
	mu       sync.Mutex
	runID    string
	policies Policies
	callouts map[string]*schemarun.Callout
	order    []string
	newID    func() string
	now      func() time.Time
}

// Option adjusts manager construction, mainly for deterministic tests.
type Option func(*Manager)

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(generate func() string) Option {
	return func(manager *Manager) { manager.newID = generate }
}

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(manager *Manager) { manager.now = clock }
}

// NewManager creates an empty callout collection for a run.
func NewManager(runID string, policies Policies, options ...Option) *Manager {
	manager := &Manager{
		runID:    runID,
		policies: policies,
		callouts: map[string]*schemarun.Callout{},
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, option := range options {
		option(manager)
	}
	return manager
}

// Generate turns classified metric results into stored callouts. Earlier
// callouts for the same metric are retained as history; the newest entry is
// the current view for that metric.
func (manager *Manager) Generate(results []schemarun.MetricResult, step int, detection *schemarun.ModeDetection) []schemarun.Callout {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	generated := make([]schemarun.Callout, 0, len(results))
	for _, result := range results {
		policy := manager.policies[result.Metric]
		preFilter := DetermineTier(result, policy, detection)
		stored := applyNoiseFilter(preFilter, detection)

		entry := schemarun.Callout{
			SchemaID:         schemarun.CalloutSchemaID,
			SchemaVersion:    schemarun.SchemaVersion1,
			CalloutID:        manager.newID(),
			RunID:            manager.runID,
			Step:             step,
			Tier:             stored,
			PreFilterTier:    preFilter,
			Metric:           result.Metric,
			Value:            result.Value,
			Previous:         result.Previous,
			ThresholdContext: result.ThresholdContext,
			Explanation:      result.Explanation,
			Recommendation:   result.Recommendation,
			RequiresAck:      stored == schemarun.TierBlocking,
			CreatedAt:        manager.now().UTC(),
		}
		if result.Previous != nil {
			entry.Delta = result.Value - *result.Previous
		}

		manager.callouts[entry.CalloutID] = &entry
		manager.order = append(manager.order, entry.CalloutID)
		generated = append(generated, entry)
	}
	return generated
}

// Restore re-inserts a persisted callout during state reconstruction.
func (manager *Manager) Restore(entry schemarun.Callout) error {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if entry.CalloutID == "" {
		return coreerrors.Wrap(fmt.Errorf("callout id is empty"),
			coreerrors.CategoryInvalidInput, "callout_id_missing", "persisted callouts carry their original id", false)
	}
	if _, exists := manager.callouts[entry.CalloutID]; exists {
		return coreerrors.Wrap(fmt.Errorf("callout %s already present", entry.CalloutID),
			coreerrors.CategoryInvalidInput, "callout_duplicate", "restore each persisted callout once", false)
	}
	stored := entry
	manager.callouts[stored.CalloutID] = &stored
	manager.order = append(manager.order, stored.CalloutID)
	return nil
}

// Acknowledge marks a callout acknowledged and records the confirmation.
// Idempotent: acknowledging an already-acknowledged callout succeeds without
// touching the original timestamp. Only an unknown id fails.
func (manager *Manager) Acknowledge(calloutID, confirmation string) (schemarun.Callout, error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	entry, exists := manager.callouts[calloutID]
	if !exists {
		return schemarun.Callout{}, coreerrors.Wrap(
			fmt.Errorf("callout %s not found in run %s", calloutID, manager.runID),
			coreerrors.CategoryInvalidInput, "callout_not_found",
			"list pending callouts to find valid ids", false)
	}
	if entry.Acknowledged {
		return *entry, nil
	}
	acknowledgedAt := manager.now().UTC()
	entry.Acknowledged = true
	entry.AcknowledgedAt = &acknowledgedAt
	entry.Confirmation = confirmation
	return *entry, nil
}

// AcknowledgeAll acknowledges every pending callout that requires it and
// returns how many transitions happened.
func (manager *Manager) AcknowledgeAll(confirmation string) int {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	acknowledgedAt := manager.now().UTC()
	count := 0
	for _, calloutID := range manager.order {
		entry := manager.callouts[calloutID]
		if !entry.RequiresAck || entry.Acknowledged {
			continue
		}
		at := acknowledgedAt
		entry.Acknowledged = true
		entry.AcknowledgedAt = &at
		entry.Confirmation = confirmation
		count++
	}
	return count
}

// CanProceed reports whether every blocking callout has been acknowledged.
// Recomputed under the collection mutex on every call, never cached.
func (manager *Manager) CanProceed() bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.canProceedLocked()
}

func (manager *Manager) canProceedLocked() bool {
	for _, entry := range manager.callouts {
		if entry.Tier == schemarun.TierBlocking && !entry.Acknowledged {
			return false
		}
	}
	return true
}

// PendingBlocking returns the blocking callouts still awaiting
// acknowledgment, in creation order, so a blocked gate can name them.
func (manager *Manager) PendingBlocking() []schemarun.Callout {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	var pending []schemarun.Callout
	for _, calloutID := range manager.order {
		entry := manager.callouts[calloutID]
		if entry.Tier == schemarun.TierBlocking && !entry.Acknowledged {
			pending = append(pending, *entry)
		}
	}
	return pending
}

// Current returns the most recently created callout for a metric.
func (manager *Manager) Current(metric string) (schemarun.Callout, bool) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	for index := len(manager.order) - 1; index >= 0; index-- {
		entry := manager.callouts[manager.order[index]]
		if entry.Metric == metric {
			return *entry, true
		}
	}
	return schemarun.Callout{}, false
}

// All returns every stored callout in creation order, history included.
func (manager *Manager) All() []schemarun.Callout {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	entries := make([]schemarun.Callout, 0, len(manager.order))
	for _, calloutID := range manager.order {
		entries = append(entries, *manager.callouts[calloutID])
	}
	return entries
}

// Summary builds the polling view in one critical section, so the counts
// and the proceed flag always describe the same instant.
func (manager *Manager) Summary() schemarun.CalloutSummary {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	summary := schemarun.CalloutSummary{
		RunID:  manager.runID,
		Total:  len(manager.order),
		ByTier: map[schemarun.Tier]int{},
	}
	metrics := map[string]struct{}{}
	for _, calloutID := range manager.order {
		entry := manager.callouts[calloutID]
		summary.ByTier[entry.Tier]++
		metrics[entry.Metric] = struct{}{}
		if entry.Step > summary.LatestStep {
			summary.LatestStep = entry.Step
		}
		if entry.RequiresAck && !entry.Acknowledged {
			summary.PendingAck++
			summary.PendingIDs = append(summary.PendingIDs, entry.CalloutID)
		}
	}
	sort.Strings(summary.PendingIDs)
	summary.UniqueMetrics = len(metrics)
	summary.CanProceed = manager.canProceedLocked()
	return summary
}
