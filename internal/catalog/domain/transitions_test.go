package domain

import "testing"

func TestIsOfferingTransitionAllowed(t *testing.T) {
	tests := []struct {
		name    string
		current OfferingState
		target  OfferingState
		want    bool
	}{
		{"draft to active", OfferingStateDraft, OfferingStateActive, true},
		{"paused to active", OfferingStatePaused, OfferingStateActive, true},
		{"archived to active", OfferingStateArchived, OfferingStateActive, false},
		{"active to paused", OfferingStateActive, OfferingStatePaused, true},
		{"draft to paused", OfferingStateDraft, OfferingStatePaused, false},
		{"active to archived", OfferingStateActive, OfferingStateArchived, true},
		{"paused to archived", OfferingStatePaused, OfferingStateArchived, true},
		{"archived to draft", OfferingStateArchived, OfferingStateDraft, true},
		{"active to draft", OfferingStateActive, OfferingStateDraft, true},
		{"self transition", OfferingStateActive, OfferingStateActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOfferingTransitionAllowed(tt.current, tt.target); got != tt.want {
				t.Fatalf("IsOfferingTransitionAllowed(%s, %s) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}
