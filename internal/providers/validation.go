package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles and caches JSON Schema documents keyed by tool
// name plus their raw bytes, so validating the same tool's parameters repeatedly across
// requests doesn't recompile the schema each time.
var schemaCache sync.Map // map[string]*jsonschema.Schema

// ValidateToolParameters compiles tool.Parameters as a JSON Schema
// document (caching the compiled schema) and validates args against it.
// A tool with no Parameters schema accepts any arguments.
func ValidateToolParameters(tool Tool, args json.RawMessage) error {
	if len(tool.Parameters) == 0 {
		return nil
	}

	schema, err := compileSchema(tool.Name, tool.Parameters)
	if err != nil {
		return fmt.Errorf("providers: compiling schema for tool %q: %w", tool.Name, err)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("providers: decoding arguments for tool %q: %w", tool.Name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("providers: arguments for tool %q failed validation: %w", tool.Name, err)
	}
	return nil
}

func compileSchema(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	cacheKey := toolName + ":" + string(raw)
	if cached, ok := schemaCache.Load(cacheKey); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiler := jsonschema.NewCompiler()
	resourceName := toolName + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}

	schemaCache.Store(cacheKey, schema)
	return schema, nil
}
