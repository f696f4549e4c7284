package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Merlins-Owl/Method-VI-sub002/core/artifact"
	"github.com/Merlins-Owl/Method-VI-sub002/core/digest"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func testDBArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--db", filepath.Join(t.TempDir(), "governance.db")}
}

func TestRunNewAndModeDetect(t *testing.T) {
	dbArgs := testDBArgs(t)

	output, err := execute(t, append([]string{"run", "new", "--run-id", "run-1"}, dbArgs...)...)
	if err != nil {
		t.Fatalf("run new failed: %v (%s)", err, output)
	}
	if !strings.Contains(output, "run-1 registered") {
		t.Fatalf("unexpected output: %s", output)
	}

	output, err = execute(t, append([]string{"mode", "detect", "--run-id", "run-1", "--score", "0.65"}, dbArgs...)...)
	if err != nil {
		t.Fatalf("mode detect failed: %v (%s)", err, output)
	}
	if !strings.Contains(output, "builder") {
		t.Fatalf("expected builder mode in output: %s", output)
	}

	// A second detection hits the write-once lock.
	if _, err = execute(t, append([]string{"mode", "detect", "--run-id", "run-1", "--score", "0.90"}, dbArgs...)...); err == nil {
		t.Fatal("expected second detection to fail")
	}
}

func TestThresholdResolution(t *testing.T) {
	dbArgs := testDBArgs(t)

	if output, err := execute(t, append([]string{"run", "new", "--run-id", "run-1"}, dbArgs...)...); err != nil {
		t.Fatalf("run new failed: %v (%s)", err, output)
	}
	if output, err := execute(t, append([]string{"mode", "detect", "--run-id", "run-1", "--score", "0.30"}, dbArgs...)...); err != nil {
		t.Fatalf("mode detect failed: %v (%s)", err, output)
	}

	output, err := execute(t, append([]string{"threshold", "--run-id", "run-1", "--metric", "alignment"}, dbArgs...)...)
	if err != nil {
		t.Fatalf("threshold failed: %v (%s)", err, output)
	}
	if !strings.Contains(output, "0.71") || !strings.Contains(output, "architecting") {
		t.Fatalf("expected architecting multiplier in output: %s", output)
	}
}

func TestValidateExportAndComplianceFromTrail(t *testing.T) {
	dbArgs := testDBArgs(t)
	workDir := t.TempDir()

	if output, err := execute(t, append([]string{"run", "new", "--run-id", "run-1"}, dbArgs...)...); err != nil {
		t.Fatalf("run new failed: %v (%s)", err, output)
	}

	content := []byte("charter body")
	contentPath := filepath.Join(workDir, "charter.md")
	if err := os.WriteFile(contentPath, content, 0o600); err != nil {
		t.Fatalf("write content: %v", err)
	}
	envelope := schemarun.Artifact{
		SchemaID:      schemarun.ArtifactSchemaID,
		SchemaVersion: schemarun.SchemaVersion1,
		ArtifactID:    "charter-001",
		RunID:         "run-1",
		Kind:          artifact.KindCharter,
		Step:          0,
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		ContentDigest: digest.Content(content),
		Immutable:     true,
		Author:        "author-1",
		Version:       1,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	envelopePath := filepath.Join(workDir, "charter.json")
	if err := os.WriteFile(envelopePath, envelopeJSON, 0o600); err != nil {
		t.Fatalf("write envelope: %v", err)
	}

	output, err := execute(t, append([]string{
		"validate", "--envelope", envelopePath, "--content", contentPath,
	}, dbArgs...)...)
	if err != nil {
		t.Fatalf("validate failed: %v (%s)", err, output)
	}
	if !strings.Contains(output, "accepted") {
		t.Fatalf("unexpected validate output: %s", output)
	}

	if output, err := execute(t, append([]string{"verify", "--run-id", "run-1"}, dbArgs...)...); err != nil {
		t.Fatalf("verify failed: %v (%s)", err, output)
	}

	trailPath := filepath.Join(workDir, "trail.jsonl")
	if output, err := execute(t, append([]string{
		"export", "--run-id", "run-1", "--out", trailPath,
	}, dbArgs...)...); err != nil {
		t.Fatalf("export failed: %v (%s)", err, output)
	}

	output, err = execute(t, "compliance", "--trail", trailPath)
	if err != nil {
		t.Fatalf("compliance from trail failed: %v (%s)", err, output)
	}
	if !strings.Contains(output, "Compliance score") {
		t.Fatalf("unexpected compliance output: %s", output)
	}
}

func TestComplianceRequiresTrail(t *testing.T) {
	dbArgs := testDBArgs(t)

	if output, err := execute(t, append([]string{"run", "new", "--run-id", "run-1"}, dbArgs...)...); err != nil {
		t.Fatalf("run new failed: %v (%s)", err, output)
	}
	// Reset --trail explicitly: flag values persist across executions in
	// one test binary.
	if _, err := execute(t, append([]string{"compliance", "--run-id", "run-1", "--trail", ""}, dbArgs...)...); err == nil {
		t.Fatal("expected explicit error for empty audit trail")
	}
}
