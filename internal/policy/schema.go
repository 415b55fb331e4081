package policy

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed policy.cue
var policySchema string

//go:embed registry.cue
var registrySchema string

// SchemaError reports a document that failed CUE schema validation.
type SchemaError struct {
	Definition string // schema definition the document was checked against
	Err        error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Definition, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// validateSchema checks raw YAML against a named definition in a CUE schema.
// The document is decoded generically, unified with the definition, and must
// produce a concrete, error-free value.
func validateSchema(data []byte, schema, definition string) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &SchemaError{Definition: definition, Err: fmt.Errorf("decode: %w", err)}
	}
	if raw == nil {
		return &SchemaError{Definition: definition, Err: fmt.Errorf("empty document")}
	}

	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return &SchemaError{Definition: definition, Err: fmt.Errorf("compile schema: %w", err)}
	}

	defVal := schemaVal.LookupPath(cue.MakePath(cue.Def(definition)))
	if err := defVal.Err(); err != nil {
		return &SchemaError{Definition: definition, Err: fmt.Errorf("lookup definition: %w", err)}
	}

	docVal := ctx.Encode(raw)
	if err := docVal.Err(); err != nil {
		return &SchemaError{Definition: definition, Err: fmt.Errorf("encode document: %w", err)}
	}

	unified := defVal.Unify(docVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Definition: definition, Err: err}
	}

	return nil
}
