package runstate

import "testing"

func TestAdapterType_DefaultsWhenUnset(t *testing.T) {
	r := &Run{}
	if got := r.AdapterType(); got != "NexteraPE-PE" {
		t.Fatalf("got %q want NexteraPE-PE", got)
	}
}

func TestAdapterType_PassesThroughOpaqueString(t *testing.T) {
	r := &Run{Parameters: map[string]string{"adapter_type": "Whatever-Custom"}}
	if got := r.AdapterType(); got != "Whatever-Custom" {
		t.Fatalf("got %q want pass-through value", got)
	}
}

func TestDeriveStatus_AnyFailedWins(t *testing.T) {
	r := &Run{Stages: map[string]*StageState{
		"qc_raw": {Status: StageCompleted},
		"trim":   {Status: StageFailed},
		"star":   {Status: StageRunning},
	}}
	if got := r.DeriveStatus(); got != RunFailed {
		t.Fatalf("got %s want failed", got)
	}
}

func TestDeriveStatus_AllCompleted(t *testing.T) {
	r := &Run{Stages: map[string]*StageState{
		"qc_raw": {Status: StageCompleted},
		"trim":   {Status: StageCompleted},
	}}
	if got := r.DeriveStatus(); got != RunCompleted {
		t.Fatalf("got %s want completed", got)
	}
}

func TestDeriveStatus_AnyRunning(t *testing.T) {
	r := &Run{Stages: map[string]*StageState{
		"qc_raw": {Status: StageCompleted},
		"trim":   {Status: StageRunning},
	}}
	if got := r.DeriveStatus(); got != RunRunning {
		t.Fatalf("got %s want running", got)
	}
}

func TestDeriveStatus_DefaultCreated(t *testing.T) {
	r := &Run{Stages: map[string]*StageState{
		"qc_raw": {Status: StagePending},
	}}
	if got := r.DeriveStatus(); got != RunCreated {
		t.Fatalf("got %s want created", got)
	}
}

func TestStageStatus_Valid(t *testing.T) {
	valid := []StageStatus{StagePending, StageRunning, StageCompleted, StageFailed, StageCancelled}
	for _, s := range valid {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if StageStatus("bogus").Valid() {
		t.Fatalf("bogus should not be valid")
	}
}
