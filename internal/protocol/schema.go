package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/envelope.schema.json
var envelopeSchemaJSON string

var (
	compileOnce    sync.Once
	envelopeSchema *jsonschema.Schema
	compileErr     error
)

// EnvelopeSchema returns the compiled JSON Schema of a bus envelope.
func EnvelopeSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("envelope.schema.json", strings.NewReader(envelopeSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		s, err := compiler.Compile("envelope.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile envelope schema: %w", err)
			return
		}
		envelopeSchema = s
	})
	return envelopeSchema, compileErr
}

// ValidateEnvelopeJSON checks raw envelope bytes against the schema.
func ValidateEnvelopeJSON(raw []byte) error {
	s, err := EnvelopeSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return reject(CodeBadEnvelope, truncate(raw), "decode: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		return reject(CodeBadEnvelope, truncate(raw), "%v", err)
	}
	return nil
}

func truncate(raw []byte) string {
	const limit = 96
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
