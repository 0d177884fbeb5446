package models

import "testing"

func TestDocumentStatusTransitions(t *testing.T) {
	cases := []struct {
		from    DocumentStatus
		to      DocumentStatus
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("pending/processing must not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed/failed must be terminal")
	}
}

func TestDocumentTypeValidation(t *testing.T) {
	for _, valid := range []string{"syllabus", "notes", "pyq", "textbook"} {
		if !IsValidDocumentType(valid) {
			t.Errorf("expected %q to be a valid document type", valid)
		}
	}
	for _, invalid := range []string{"", "exam", "PYQ", "notes "} {
		if IsValidDocumentType(invalid) {
			t.Errorf("expected %q to be rejected", invalid)
		}
	}
}
