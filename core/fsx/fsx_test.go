package fsx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "export.json")
	if err := WriteFileAtomic(path, []byte("body"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "body" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestWriteFileAtomicReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	if err := WriteFileAtomic(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "second" {
		t.Fatalf("unexpected content %q", content)
	}
	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the export file, found %d entries", len(entries))
	}
}

func TestWriteJSONLAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	lines := [][]byte{[]byte(`{"seq":1}`), []byte(`{"seq":2}`)}
	if err := WriteJSONLAtomic(path, lines, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "{\"seq\":1}\n{\"seq\":2}\n" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestWriteFileAtomicRejectsEscapingPath(t *testing.T) {
	if err := WriteFileAtomic("../outside.json", []byte("body"), 0o600); err == nil {
		t.Fatal("expected rejection of escaping relative path")
	}
}
