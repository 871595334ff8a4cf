package providers

import "testing"

func TestValidateToolParameters_NoSchemaAcceptsAnything(t *testing.T) {
	tool := Tool{Name: "noop"}
	if err := ValidateToolParameters(tool, []byte(`{"anything":"goes"}`)); err != nil {
		t.Fatalf("expected no error for tool without a schema, got %v", err)
	}
}

func TestValidateToolParameters_ValidArgsPass(t *testing.T) {
	tool := Tool{
		Name: "search",
		Parameters: []byte(`{
			"type": "object",
			"properties": {"query": {"type": "string"}},
			"required": ["query"]
		}`),
	}
	if err := ValidateToolParameters(tool, []byte(`{"query":"golang"}`)); err != nil {
		t.Fatalf("expected valid arguments to pass, got %v", err)
	}
}

func TestValidateToolParameters_MissingRequiredFieldFails(t *testing.T) {
	tool := Tool{
		Name: "search",
		Parameters: []byte(`{
			"type": "object",
			"properties": {"query": {"type": "string"}},
			"required": ["query"]
		}`),
	}
	if err := ValidateToolParameters(tool, []byte(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestValidateToolParameters_WrongTypeFails(t *testing.T) {
	tool := Tool{
		Name:       "search",
		Parameters: []byte(`{"type":"object","properties":{"limit":{"type":"integer"}}}`),
	}
	if err := ValidateToolParameters(tool, []byte(`{"limit":"not-a-number"}`)); err == nil {
		t.Fatal("expected wrong-typed field to fail validation")
	}
}

func TestValidateToolParameters_MalformedArgsFails(t *testing.T) {
	tool := Tool{
		Name:       "search",
		Parameters: []byte(`{"type":"object"}`),
	}
	if err := ValidateToolParameters(tool, []byte(`not json`)); err == nil {
		t.Fatal("expected malformed arguments to fail")
	}
}

func TestCompileSchema_CachesByToolNameAndRaw(t *testing.T) {
	raw := []byte(`{"type":"object","properties":{"x":{"type":"number"}}}`)
	first, err := compileSchema("cached-tool", raw)
	if err != nil {
		t.Fatalf("compileSchema: %v", err)
	}
	second, err := compileSchema("cached-tool", raw)
	if err != nil {
		t.Fatalf("compileSchema: %v", err)
	}
	if first != second {
		t.Error("expected the second compile to return the cached schema pointer")
	}
}
