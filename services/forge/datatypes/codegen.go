package datatypes

// CodeGenerationResult is the code generation agent's final output for one
// request, including the outcome of syntax validation on the last attempt.
type CodeGenerationResult struct {
	Code                 string   `json:"code"`
	Language             string   `json:"language"`
	Framework            string   `json:"framework,omitempty"`
	SyntaxValid          bool     `json:"syntax_valid"`
	ValidationErrors     []string `json:"validation_errors,omitempty"`
	TokensUsed           int      `json:"tokens_used"`
	DocumentationSources []string `json:"documentation_sources,omitempty"`
}
