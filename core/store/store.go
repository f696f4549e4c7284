package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Merlins-Owl/Method-VI-sub002/core/artifact"
	"github.com/Merlins-Owl/Method-VI-sub002/core/digest"
	coreerrors "github.com/Merlins-Owl/Method-VI-sub002/core/errors"
	"github.com/Merlins-Owl/Method-VI-sub002/core/gateconfig"
	"github.com/Merlins-Owl/Method-VI-sub002/core/governance"
	schemavalidate "github.com/Merlins-Owl/Method-VI-sub002/core/schema/validate"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id    TEXT NOT NULL,
	run_id         TEXT NOT NULL,
	kind           TEXT NOT NULL,
	step           INTEGER NOT NULL,
	version        INTEGER NOT NULL,
	content_digest TEXT NOT NULL,
	envelope_json  TEXT NOT NULL,
	content        BLOB NOT NULL,
	created_at     TEXT NOT NULL,
	PRIMARY KEY (run_id, artifact_id),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS audit_entries (
	run_id       TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	step         INTEGER NOT NULL,
	at           TEXT NOT NULL,
	entry_json   TEXT NOT NULL,
	prev_digest  TEXT NOT NULL,
	entry_digest TEXT NOT NULL,
	PRIMARY KEY (run_id, seq),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS mode_detections (
	run_id         TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	baseline_score REAL NOT NULL,
	confidence     REAL NOT NULL,
	detected_at    TEXT NOT NULL,
	detection_json TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS callouts (
	callout_id   TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	position     INTEGER NOT NULL,
	metric       TEXT NOT NULL,
	tier         TEXT NOT NULL,
	acknowledged INTEGER NOT NULL,
	callout_json TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// Store persists governance state in SQLite: artifact envelopes with their
// content bodies, the hash-chained audit trail, the write-once mode
// detection, and the callout collection.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("open db: %w", err),
			coreerrors.CategoryIOFailure, "db_open_failed", "check the database path is writable", true)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("pragma: %w", err),
			coreerrors.CategoryIOFailure, "db_pragma_failed", "", true)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("pragma fk: %w", err),
			coreerrors.CategoryIOFailure, "db_pragma_failed", "", true)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("migrate: %w", err),
			coreerrors.CategoryIOFailure, "db_migrate_failed", "", false)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (store *Store) Close() error {
	return store.db.Close()
}

// CreateRun registers a run. Creating an existing run fails.
func (store *Store) CreateRun(runID string, now time.Time) error {
	if runID == "" {
		return coreerrors.Wrap(fmt.Errorf("run id is empty"),
			coreerrors.CategoryInvalidInput, "run_id_missing", "", false)
	}
	_, err := store.db.Exec(
		`INSERT INTO runs (run_id, created_at) VALUES (?, ?)`,
		runID, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("create run %s: %w", runID, err),
			coreerrors.CategoryInvalidInput, "run_exists", "run ids are unique per database", false)
	}
	return nil
}

// runExists reports whether a run is registered.
func (store *Store) runExists(runID string) (bool, error) {
	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&count); err != nil {
		return false, coreerrors.Wrap(fmt.Errorf("check run %s: %w", runID, err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}
	return count > 0, nil
}

func (store *Store) requireRun(runID string) error {
	exists, err := store.runExists(runID)
	if err != nil {
		return err
	}
	if !exists {
		return coreerrors.Wrap(fmt.Errorf("run %s not found", runID),
			coreerrors.CategoryStateUnavailable, "run_not_found", "create the run before writing to it", false)
	}
	return nil
}

// loadIndex rebuilds the validation index from the run's persisted
// envelopes.
func (store *Store) loadIndex(runID string) (artifact.Index, error) {
	index := artifact.NewIndex()
	envelopes, err := store.Artifacts(runID)
	if err != nil {
		return index, err
	}
	for _, envelope := range envelopes {
		index.Accept(envelope)
	}
	return index, nil
}

// CommitArtifact validates an envelope and its content against the run's
// accepted state and persists both atomically with an audit entry. A
// rejection carries the complete violation list.
func (store *Store) CommitArtifact(envelope schemarun.Artifact, content []byte) ([]artifact.Violation, error) {
	if err := store.requireRun(envelope.RunID); err != nil {
		return nil, err
	}

	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("marshal envelope: %w", err),
			coreerrors.CategoryInternalFailure, "envelope_marshal_failed", "", false)
	}
	if err := schemavalidate.ValidateJSON(schemarun.ArtifactSchemaID, envelopeJSON); err != nil {
		return nil, coreerrors.Wrap(err,
			coreerrors.CategoryInvalidInput, "envelope_schema_invalid",
			"the envelope must match the artifact schema before content checks run", false)
	}

	index, err := store.loadIndex(envelope.RunID)
	if err != nil {
		return nil, err
	}
	violations := artifact.Validate(envelope, content, index)
	if len(violations) > 0 {
		return violations, coreerrors.Wrap(
			fmt.Errorf("artifact %s rejected with %d violation(s)", envelope.ArtifactID, len(violations)),
			coreerrors.CategoryVerification, "artifact_rejected",
			"fix every listed violation and resubmit", false)
	}

	tx, err := store.db.Begin()
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("begin tx: %w", err),
			coreerrors.CategoryIOFailure, "db_tx_failed", "", true)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO artifacts (artifact_id, run_id, kind, step, version, content_digest, envelope_json, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		envelope.ArtifactID, envelope.RunID, envelope.Kind, envelope.Step, envelope.Version,
		envelope.ContentDigest, string(envelopeJSON), content,
		envelope.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("insert artifact: %w", err),
			coreerrors.CategoryIOFailure, "db_insert_failed", "", true)
	}

	auditEntry := schemarun.AuditEntry{
		SchemaID:        schemarun.AuditEntrySchemaID,
		SchemaVersion:   schemarun.SchemaVersion1,
		RunID:           envelope.RunID,
		Kind:            schemarun.AuditArtifactCommit,
		Step:            envelope.Step,
		At:              envelope.CreatedAt.UTC(),
		ArtifactKind:    envelope.Kind,
		ArtifactVersion: envelope.Version,
	}
	if err := store.appendAuditTx(tx, &auditEntry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("commit: %w", err),
			coreerrors.CategoryIOFailure, "db_commit_failed", "", true)
	}
	return nil, nil
}

// Artifacts returns the run's accepted envelopes in commit order.
func (store *Store) Artifacts(runID string) ([]schemarun.Artifact, error) {
	rows, err := store.db.Query(
		`SELECT envelope_json FROM artifacts WHERE run_id = ? ORDER BY created_at, artifact_id`, runID)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("list artifacts: %w", err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}
	defer rows.Close()

	var envelopes []schemarun.Artifact
	for rows.Next() {
		var envelopeJSON string
		if err := rows.Scan(&envelopeJSON); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("scan artifact: %w", err),
				coreerrors.CategoryIOFailure, "db_scan_failed", "", false)
		}
		var envelope schemarun.Artifact
		if err := json.Unmarshal([]byte(envelopeJSON), &envelope); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("decode envelope: %w", err),
				coreerrors.CategoryInternalFailure, "envelope_decode_failed", "", false)
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes, rows.Err()
}

// ArtifactContent returns one artifact's envelope and stored content body.
func (store *Store) ArtifactContent(runID, artifactID string) (schemarun.Artifact, []byte, error) {
	var envelopeJSON string
	var content []byte
	err := store.db.QueryRow(
		`SELECT envelope_json, content FROM artifacts WHERE run_id = ? AND artifact_id = ?`,
		runID, artifactID).Scan(&envelopeJSON, &content)
	if err == sql.ErrNoRows {
		return schemarun.Artifact{}, nil, coreerrors.Wrap(
			fmt.Errorf("artifact %s not found in run %s", artifactID, runID),
			coreerrors.CategoryStateUnavailable, "artifact_not_found", "", false)
	}
	if err != nil {
		return schemarun.Artifact{}, nil, coreerrors.Wrap(fmt.Errorf("load artifact: %w", err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}
	var envelope schemarun.Artifact
	if err := json.Unmarshal([]byte(envelopeJSON), &envelope); err != nil {
		return schemarun.Artifact{}, nil, coreerrors.Wrap(fmt.Errorf("decode envelope: %w", err),
			coreerrors.CategoryInternalFailure, "envelope_decode_failed", "", false)
	}
	return envelope, content, nil
}

// AppendAudit appends an entry to the run's hash-chained audit trail. Seq,
// PrevDigest, and EntryDigest are assigned here; caller values for those
// fields are ignored.
func (store *Store) AppendAudit(entry schemarun.AuditEntry) (schemarun.AuditEntry, error) {
	if err := store.requireRun(entry.RunID); err != nil {
		return schemarun.AuditEntry{}, err
	}
	tx, err := store.db.Begin()
	if err != nil {
		return schemarun.AuditEntry{}, coreerrors.Wrap(fmt.Errorf("begin tx: %w", err),
			coreerrors.CategoryIOFailure, "db_tx_failed", "", true)
	}
	defer func() { _ = tx.Rollback() }()

	if err := store.appendAuditTx(tx, &entry); err != nil {
		return schemarun.AuditEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return schemarun.AuditEntry{}, coreerrors.Wrap(fmt.Errorf("commit: %w", err),
			coreerrors.CategoryIOFailure, "db_commit_failed", "", true)
	}
	return entry, nil
}

func (store *Store) appendAuditTx(tx *sql.Tx, entry *schemarun.AuditEntry) error {
	var lastSeq int
	var lastDigest sql.NullString
	err := tx.QueryRow(
		`SELECT seq, entry_digest FROM audit_entries WHERE run_id = ? ORDER BY seq DESC LIMIT 1`,
		entry.RunID).Scan(&lastSeq, &lastDigest)
	if err != nil && err != sql.ErrNoRows {
		return coreerrors.Wrap(fmt.Errorf("read chain head: %w", err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}

	entry.SchemaID = schemarun.AuditEntrySchemaID
	entry.SchemaVersion = schemarun.SchemaVersion1
	entry.Seq = lastSeq + 1
	entry.PrevDigest = ""
	if lastDigest.Valid {
		entry.PrevDigest = lastDigest.String
	}
	entry.EntryDigest = ""
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	// The entry digest covers the canonical JSON with PrevDigest set and
	// EntryDigest itself cleared.
	chainInput, err := json.Marshal(entry)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("marshal audit entry: %w", err),
			coreerrors.CategoryInternalFailure, "audit_marshal_failed", "", false)
	}
	entryDigest, err := digest.Chain(entry.PrevDigest, chainInput)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("chain audit entry: %w", err),
			coreerrors.CategoryInternalFailure, "audit_chain_failed", "", false)
	}
	entry.EntryDigest = entryDigest

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("marshal audit entry: %w", err),
			coreerrors.CategoryInternalFailure, "audit_marshal_failed", "", false)
	}
	_, err = tx.Exec(
		`INSERT INTO audit_entries (run_id, seq, kind, step, at, entry_json, prev_digest, entry_digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Seq, string(entry.Kind), entry.Step,
		entry.At.UTC().Format(time.RFC3339Nano), string(entryJSON), entry.PrevDigest, entry.EntryDigest)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("insert audit entry: %w", err),
			coreerrors.CategoryIOFailure, "db_insert_failed", "", true)
	}
	return nil
}

// LoadTrail returns the run's audit trail in sequence order.
func (store *Store) LoadTrail(runID string) ([]schemarun.AuditEntry, error) {
	rows, err := store.db.Query(
		`SELECT entry_json FROM audit_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("load trail: %w", err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}
	defer rows.Close()

	var entries []schemarun.AuditEntry
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("scan audit entry: %w", err),
				coreerrors.CategoryIOFailure, "db_scan_failed", "", false)
		}
		var entry schemarun.AuditEntry
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("decode audit entry: %w", err),
				coreerrors.CategoryInternalFailure, "audit_decode_failed", "", false)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SaveModeDetection persists the run's write-once detection. A second save
// for the same run fails with a mode_locked error.
func (store *Store) SaveModeDetection(detection schemarun.ModeDetection) error {
	if err := store.requireRun(detection.RunID); err != nil {
		return err
	}
	detectionJSON, err := json.Marshal(detection)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("marshal detection: %w", err),
			coreerrors.CategoryInternalFailure, "detection_marshal_failed", "", false)
	}
	result, err := store.db.Exec(
		`INSERT INTO mode_detections (run_id, mode, baseline_score, confidence, detected_at, detection_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		detection.RunID, string(detection.Mode), detection.BaselineScore, detection.Confidence,
		detection.DetectedAt.UTC().Format(time.RFC3339Nano), string(detectionJSON))
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("save detection: %w", err),
			coreerrors.CategoryIOFailure, "db_insert_failed", "", true)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("save detection: %w", err),
			coreerrors.CategoryIOFailure, "db_insert_failed", "", false)
	}
	if inserted == 0 {
		return coreerrors.Wrap(
			fmt.Errorf("mode already detected for run %s", detection.RunID),
			coreerrors.CategoryModeLocked, "mode_already_locked",
			"mode detection runs exactly once per run and is immutable afterwards", false)
	}
	return nil
}

// LoadModeDetection returns the run's persisted detection, if any.
func (store *Store) LoadModeDetection(runID string) (schemarun.ModeDetection, bool, error) {
	var detectionJSON string
	err := store.db.QueryRow(
		`SELECT detection_json FROM mode_detections WHERE run_id = ?`, runID).Scan(&detectionJSON)
	if err == sql.ErrNoRows {
		return schemarun.ModeDetection{}, false, nil
	}
	if err != nil {
		return schemarun.ModeDetection{}, false, coreerrors.Wrap(fmt.Errorf("load detection: %w", err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}
	var detection schemarun.ModeDetection
	if err := json.Unmarshal([]byte(detectionJSON), &detection); err != nil {
		return schemarun.ModeDetection{}, false, coreerrors.Wrap(fmt.Errorf("decode detection: %w", err),
			coreerrors.CategoryInternalFailure, "detection_decode_failed", "", false)
	}
	return detection, true, nil
}

// SaveCallout upserts one callout's persisted form, preserving its
// creation position.
func (store *Store) SaveCallout(entry schemarun.Callout, position int) error {
	if err := store.requireRun(entry.RunID); err != nil {
		return err
	}
	calloutJSON, err := json.Marshal(entry)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("marshal callout: %w", err),
			coreerrors.CategoryInternalFailure, "callout_marshal_failed", "", false)
	}
	acknowledged := 0
	if entry.Acknowledged {
		acknowledged = 1
	}
	_, err = store.db.Exec(
		`INSERT INTO callouts (callout_id, run_id, position, metric, tier, acknowledged, callout_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(callout_id) DO UPDATE SET acknowledged = excluded.acknowledged, callout_json = excluded.callout_json`,
		entry.CalloutID, entry.RunID, position, entry.Metric, string(entry.Tier), acknowledged, string(calloutJSON))
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("save callout: %w", err),
			coreerrors.CategoryIOFailure, "db_insert_failed", "", true)
	}
	return nil
}

// SaveCallouts persists a callout list in creation order.
func (store *Store) SaveCallouts(entries []schemarun.Callout) error {
	for position, entry := range entries {
		if err := store.SaveCallout(entry, position); err != nil {
			return err
		}
	}
	return nil
}

// LoadCallouts returns the run's persisted callouts in creation order.
func (store *Store) LoadCallouts(runID string) ([]schemarun.Callout, error) {
	rows, err := store.db.Query(
		`SELECT callout_json FROM callouts WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("load callouts: %w", err),
			coreerrors.CategoryIOFailure, "db_query_failed", "", true)
	}
	defer rows.Close()

	var entries []schemarun.Callout
	for rows.Next() {
		var calloutJSON string
		if err := rows.Scan(&calloutJSON); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("scan callout: %w", err),
				coreerrors.CategoryIOFailure, "db_scan_failed", "", false)
		}
		var entry schemarun.Callout
		if err := json.Unmarshal([]byte(calloutJSON), &entry); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("decode callout: %w", err),
				coreerrors.CategoryInternalFailure, "callout_decode_failed", "", false)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Rebuild reconstructs a run's governance context from persisted state.
func (store *Store) Rebuild(runID string, config gateconfig.Config) (*governance.Context, error) {
	if err := store.requireRun(runID); err != nil {
		return nil, err
	}
	var detectionPtr *schemarun.ModeDetection
	detection, detected, err := store.LoadModeDetection(runID)
	if err != nil {
		return nil, err
	}
	if detected {
		detectionPtr = &detection
	}
	callouts, err := store.LoadCallouts(runID)
	if err != nil {
		return nil, err
	}
	return governance.Replay(runID, config, detectionPtr, callouts)
}
