package datatypes

import "strings"

// RoutingDecision is the supervisor's classification of a prompt.
type RoutingDecision string

const (
	// DecisionSearchOnly answers from documentation retrieval alone.
	DecisionSearchOnly RoutingDecision = "SEARCH_ONLY"

	// DecisionCodeOnly generates code without a documentation pass.
	DecisionCodeOnly RoutingDecision = "CODE_ONLY"

	// DecisionSearchThenCode retrieves documentation, then generates code
	// grounded on it. This is the default when classification is unclear.
	DecisionSearchThenCode RoutingDecision = "SEARCH_THEN_CODE"
)

// String implements fmt.Stringer.
func (d RoutingDecision) String() string { return string(d) }

// IsValid reports whether d is one of the three known decisions.
func (d RoutingDecision) IsValid() bool {
	switch d {
	case DecisionSearchOnly, DecisionCodeOnly, DecisionSearchThenCode:
		return true
	}
	return false
}

// ParseRoutingDecision extracts a routing decision from raw model output.
//
// The match is a case-insensitive substring check so that chatty completions
// like "The answer is SEARCH_ONLY." still classify. SEARCH_ONLY is checked
// before CODE_ONLY, and both before SEARCH_THEN_CODE, because the longer
// label contains fragments of the shorter ones. Unrecognized output falls
// back to SEARCH_THEN_CODE with ok=false so callers can log it.
func ParseRoutingDecision(raw string) (decision RoutingDecision, ok bool) {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, string(DecisionSearchOnly)):
		return DecisionSearchOnly, true
	case strings.Contains(upper, string(DecisionCodeOnly)):
		return DecisionCodeOnly, true
	case strings.Contains(upper, string(DecisionSearchThenCode)):
		return DecisionSearchThenCode, true
	}
	return DecisionSearchThenCode, false
}
