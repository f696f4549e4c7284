package validate

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	schemarun.ArtifactSchemaID:      "schemas/artifact.schema.json",
	schemarun.ModeDetectionSchemaID: "schemas/mode_detection.schema.json",
	schemarun.CalloutSchemaID:       "schemas/callout.schema.json",
	schemarun.AuditEntrySchemaID:    "schemas/audit_entry.schema.json",
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		compiled = make(map[string]*jsonschema.Schema, len(schemaFiles))
		for schemaID, file := range schemaFiles {
			data, err := schemaFS.ReadFile(file)
			if err != nil {
				compileErr = fmt.Errorf("read embedded schema %s: %w", file, err)
				return
			}
			schema, err := compiler.Compile(data)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", schemaID, err)
				return
			}
			compiled[schemaID] = schema
		}
	})
	return compiled, compileErr
}

// ValidateJSON checks a JSON document against the embedded schema for the
// given schema id.
func ValidateJSON(schemaID string, data []byte) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, exists := schemas[schemaID]
	if !exists {
		return fmt.Errorf("unknown schema id %q", schemaID)
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed for %s: %v", schemaID, result.Errors)
}

// ValidateJSONL checks every non-empty line of a JSONL document against
// the embedded schema for the given schema id.
func ValidateJSONL(schemaID string, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		trimmed := bytes.TrimSpace(scanner.Bytes())
		if len(trimmed) == 0 {
			continue
		}
		if err := ValidateJSON(schemaID, trimmed); err != nil {
			return fmt.Errorf("jsonl line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read jsonl: %w", err)
	}
	return nil
}

// SchemaIDs lists the schema ids with an embedded schema.
func SchemaIDs() []string {
	identifiers := make([]string, 0, len(schemaFiles))
	for schemaID := range schemaFiles {
		identifiers = append(identifiers, schemaID)
	}
	return identifiers
}
