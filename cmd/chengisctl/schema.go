package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/pipeline_definition.json
var pipelineDefinitionSchema string

var (
	compileOnce     sync.Once
	compiledSchema  *jsonschema.Schema
	compileSchemaErr error
)

func getPipelineSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		const schemaURL = "https://chengis.invalid/schemas/pipeline-definition.json"
		var schemaDoc any
		if err := json.Unmarshal([]byte(pipelineDefinitionSchema), &schemaDoc); err != nil {
			compileSchemaErr = fmt.Errorf("parse embedded pipeline schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
			compileSchemaErr = fmt.Errorf("add pipeline schema resource: %w", err)
			return
		}
		compiledSchema, compileSchemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compileSchemaErr
}

// validatePipelineDocument validates a parsed YAML/JSON pipeline document
// (already decoded into generic map/slice/scalar values) against the
// pipeline definition schema before it is converted into pipeline.Definition,
// so a malformed file fails with a pointer to the offending field instead
// of a confusing executor-side nil-dereference or silently-empty run.
func validatePipelineDocument(doc any) error {
	schema, err := getPipelineSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("pipeline definition failed schema validation: %w", err)
	}
	return nil
}
