package providers

import "strings"

// defaultContextLength is used when a model ID matches no known family.
const defaultContextLength = 4096

// contextLengthRules maps a case-insensitive substring of a model ID to
// the context length assumed for models whose name contains it. Rules
// are checked in order; the first match wins, so "codellama" is listed
// ahead of any rule whose substring it would otherwise also satisfy.
var contextLengthRules = []struct {
	substr string
	length int
}{
	{"codellama", 16384},
	{"mixtral", 32768},
	{"llama3", 8192},
	{"mistral", 8192},
}

// familyRules maps a model-ID substring to the inferred model family
// name, checked in the same order as contextLengthRules. mixtral and
// mistral share the "mistral" family; codellama is checked ahead of
// "llama" since its ID also contains that substring.
var familyRules = []struct {
	substr string
	family string
}{
	{"codellama", "codellama"},
	{"llama", "llama"},
	{"mixtral", "mistral"},
	{"mistral", "mistral"},
	{"deepseek", "deepseek"},
	{"qwen", "qwen"},
	{"phi", "phi"},
	{"gemma", "gemma"},
	{"starcoder", "starcoder"},
}

// InferContextLength estimates a model's context window from its ID
// when a provider's model listing API doesn't report one directly.
func InferContextLength(modelID string) int {
	lower := strings.ToLower(modelID)
	for _, rule := range contextLengthRules {
		if strings.Contains(lower, rule.substr) {
			return rule.length
		}
	}
	return defaultContextLength
}

// InferFamily estimates a model's family name from its ID.
func InferFamily(modelID string) string {
	lower := strings.ToLower(modelID)
	for _, rule := range familyRules {
		if strings.Contains(lower, rule.substr) {
			return rule.family
		}
	}
	return "unknown"
}

// InferFunctionCalling reports whether a model is assumed to support
// function/tool calling, based on its ID naming an instruct or chat
// variant.
func InferFunctionCalling(modelID string) bool {
	lower := strings.ToLower(modelID)
	return strings.Contains(lower, "instruct") || strings.Contains(lower, "chat")
}

// InferCodeSupport reports whether a model is assumed to be a
// code-specialized variant, based on its ID containing "code" (which
// also catches "coder" and "codellama" spellings).
func InferCodeSupport(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "code")
}

// DescribeModel fills in a UnifiedModel's capability fields by
// inference, for providers whose listing API reports only an ID. Every
// model is assumed to support chat and completion; code and
// function-calling support are inferred per-model.
func DescribeModel(providerName, modelID string) UnifiedModel {
	return UnifiedModel{
		ID:                modelID,
		Name:              modelID,
		Provider:          providerName,
		Family:            InferFamily(modelID),
		ContextLength:     InferContextLength(modelID),
		SupportsTools:     InferFunctionCalling(modelID),
		SupportsCode:      InferCodeSupport(modelID),
		SupportsStreaming: true,
	}
}
