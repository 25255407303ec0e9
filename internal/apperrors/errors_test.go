package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestRerunRequired_MessageNamesStageAndFlag(t *testing.T) {
	err := RerunRequired("qc_raw", "run-123")
	msg := err.Error()
	if !contains(msg, "qc_raw") {
		t.Fatalf("expected message to name stage, got %q", msg)
	}
	if !contains(err.Remediation, "confirm_rerun") {
		t.Fatalf("expected remediation to mention confirm_rerun, got %q", err.Remediation)
	}
	if err.Kind != KindRerunNeeded {
		t.Fatalf("got kind %v want %v", err.Kind, KindRerunNeeded)
	}
}

func TestDependency_NamesMissingPrerequisite(t *testing.T) {
	err := Dependency("trim", "qc_raw")
	if !contains(err.Error(), "qc_raw") {
		t.Fatalf("expected message to name dependency, got %q", err.Error())
	}
	if err.Kind != KindDependency {
		t.Fatalf("got kind %v want %v", err.Kind, KindDependency)
	}
}

func TestValidation_CarriesErrorsAndWarnings(t *testing.T) {
	err := Validation("star", []string{"missing gtf"}, []string{"odd fastq count"})
	if len(err.Errors) != 1 || err.Errors[0] != "missing gtf" {
		t.Fatalf("errors not carried: %+v", err.Errors)
	}
	if len(err.Warnings) != 1 || err.Warnings[0] != "odd fastq count" {
		t.Fatalf("warnings not carried: %+v", err.Warnings)
	}
}

func TestScheduler_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("exit status 1")
	err := Scheduler("submit", "sbatch failed", cause)
	if !errors.Is(err, err) {
		t.Fatalf("self-identity broken")
	}
	if err.Unwrap() != cause {
		t.Fatalf("cause not preserved")
	}
}

func TestAs_UnwrapsWrappedError(t *testing.T) {
	inner := NotFound("store", "run-1", "run not found")
	wrapped := fmt.Errorf("load run: %w", inner)

	got, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected to find *Error in wrapped chain")
	}
	if got.Kind != KindNotFound {
		t.Fatalf("got kind %v want %v", got.Kind, KindNotFound)
	}
}

func TestAs_NoMatchReturnsFalse(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	if ok {
		t.Fatalf("expected no match for a plain error")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
