package validate

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

func validEnvelope() schemarun.Artifact {
	return schemarun.Artifact{
		SchemaID:      schemarun.ArtifactSchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		ArtifactID:    "artifact-001",
		RunID:         "run-1",
		Kind:          "charter",
		Step:          0,
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		ContentDigest: strings.Repeat("ab", 32),
		Author:        "author-1",
	}
}

func marshal(t *testing.T, value any) []byte {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestValidateArtifactEnvelope(t *testing.T) {
	if err := ValidateJSON(schemarun.ArtifactSchemaID, marshal(t, validEnvelope())); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}
}

func TestValidateArtifactEnvelopeRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*schemarun.Artifact)
	}{
		{"wrong schema id", func(envelope *schemarun.Artifact) { envelope.SchemaID = "methodvi.run.other" }},
		{"empty artifact id", func(envelope *schemarun.Artifact) { envelope.ArtifactID = "" }},
		{"step above range", func(envelope *schemarun.Artifact) { envelope.Step = 7 }},
		{"malformed digest", func(envelope *schemarun.Artifact) { envelope.ContentDigest = "not-a-digest" }},
		{"short digest", func(envelope *schemarun.Artifact) { envelope.ContentDigest = "abcd" }},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			envelope := validEnvelope()
			testCase.mutate(&envelope)
			if err := ValidateJSON(schemarun.ArtifactSchemaID, marshal(t, envelope)); err == nil {
				t.Fatal("expected schema rejection")
			}
		})
	}
}

func TestValidateArtifactRejectsUnknownFields(t *testing.T) {
	var document map[string]any
	if err := json.Unmarshal(marshal(t, validEnvelope()), &document); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	document["unexpected"] = true
	if err := ValidateJSON(schemarun.ArtifactSchemaID, marshal(t, document)); err == nil {
		t.Fatal("expected rejection of unknown field")
	}
}

func TestValidateModeDetection(t *testing.T) {
	detection := schemarun.ModeDetection{
		SchemaID:      schemarun.ModeDetectionSchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		RunID:         "run-1",
		Mode:          schemarun.ModeBuilder,
		BaselineScore: 0.65,
		Confidence:    0.85,
		DetectedAt:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if err := ValidateJSON(schemarun.ModeDetectionSchemaID, marshal(t, detection)); err != nil {
		t.Fatalf("valid detection rejected: %v", err)
	}
	detection.Mode = "prototyping"
	if err := ValidateJSON(schemarun.ModeDetectionSchemaID, marshal(t, detection)); err == nil {
		t.Fatal("expected rejection of unknown mode")
	}
}

func TestValidateAuditEntry(t *testing.T) {
	entry := schemarun.AuditEntry{
		SchemaID:      schemarun.AuditEntrySchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		RunID:         "run-1",
		Seq:           1,
		Kind:          schemarun.AuditStepStarted,
		Step:          0,
		At:            time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if err := ValidateJSON(schemarun.AuditEntrySchemaID, marshal(t, entry)); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}
	entry.Kind = "unregistered_event"
	if err := ValidateJSON(schemarun.AuditEntrySchemaID, marshal(t, entry)); err == nil {
		t.Fatal("expected rejection of unknown kind")
	}
}

func TestValidateJSONL(t *testing.T) {
	entry := schemarun.AuditEntry{
		SchemaID:      schemarun.AuditEntrySchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		RunID:         "run-1",
		Seq:           1,
		Kind:          schemarun.AuditStepStarted,
		Step:          0,
		At:            time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	valid := marshal(t, entry)
	entry.Seq = 2
	document := append(append(append([]byte{}, valid...), '\n'), marshal(t, entry)...)
	if err := ValidateJSONL(schemarun.AuditEntrySchemaID, document); err != nil {
		t.Fatalf("valid jsonl rejected: %v", err)
	}

	broken := append(append(append([]byte{}, valid...), '\n'), []byte(`{"seq":0}`)...)
	err := ValidateJSONL(schemarun.AuditEntrySchemaID, broken)
	if err == nil {
		t.Fatal("expected rejection of malformed line")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error should name the failing line: %v", err)
	}
}

func TestValidateUnknownSchemaID(t *testing.T) {
	if err := ValidateJSON("methodvi.run.unregistered", []byte(`{}`)); err == nil {
		t.Fatal("expected unknown schema id error")
	}
}

func TestSchemaIDsCoverRegisteredSchemas(t *testing.T) {
	identifiers := SchemaIDs()
	if len(identifiers) != 4 {
		t.Fatalf("expected 4 registered schemas, got %d", len(identifiers))
	}
}
