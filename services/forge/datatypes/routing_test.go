package datatypes

import "testing"

func TestParseRoutingDecision(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   RoutingDecision
		wantOK bool
	}{
		{"exact search only", "SEARCH_ONLY", DecisionSearchOnly, true},
		{"exact code only", "CODE_ONLY", DecisionCodeOnly, true},
		{"exact search then code", "SEARCH_THEN_CODE", DecisionSearchThenCode, true},
		{"lowercase", "code_only", DecisionCodeOnly, true},
		{"chatty completion", "The best route here is SEARCH_ONLY.", DecisionSearchOnly, true},
		{"search only beats search then code", "SEARCH_ONLY or SEARCH_THEN_CODE", DecisionSearchOnly, true},
		{"code only beats search then code", "maybe CODE_ONLY, maybe SEARCH_THEN_CODE", DecisionCodeOnly, true},
		{"unrecognized defaults", "I cannot classify this", DecisionSearchThenCode, false},
		{"empty defaults", "", DecisionSearchThenCode, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRoutingDecision(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseRoutingDecision(%q) = (%v, %v), want (%v, %v)",
					tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRoutingDecision_IsValid(t *testing.T) {
	for _, d := range []RoutingDecision{DecisionSearchOnly, DecisionCodeOnly, DecisionSearchThenCode} {
		if !d.IsValid() {
			t.Errorf("%v should be valid", d)
		}
	}
	if RoutingDecision("SEARCH_MAYBE").IsValid() {
		t.Error("unknown decision should be invalid")
	}
}
