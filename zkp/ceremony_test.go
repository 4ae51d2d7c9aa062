package zkp

import "testing"

var testOperators = []string{"T-Mobile-DE", "Vodafone-UK", "Orange-FR", "Telefónica-ES", "SFR-FR"}

func TestCeremonyRoundTripVerifies(t *testing.T) {
	bceCS, _, err := CompileCircuits()
	if err != nil {
		t.Fatalf("CompileCircuits: %v", err)
	}
	pk, vk, transcript, err := RunCeremony(CircuitBcePrivacy, bceCS, testOperators)
	if err != nil {
		t.Fatalf("RunCeremony: %v", err)
	}
	if transcript.Circuit != CircuitBcePrivacy {
		t.Errorf("transcript circuit: got %s want %s", transcript.Circuit, CircuitBcePrivacy)
	}
	if len(transcript.Contributions) != len(testOperators) {
		t.Errorf("contributions: got %d want %d", len(transcript.Contributions), len(testOperators))
	}
	if err := VerifyCeremony(transcript, pk, vk, testOperators); err != nil {
		t.Errorf("VerifyCeremony: %v", err)
	}
}

func TestVerifyCeremonyDetectsMissingOperator(t *testing.T) {
	bceCS, _, err := CompileCircuits()
	if err != nil {
		t.Fatalf("CompileCircuits: %v", err)
	}
	pk, vk, transcript, err := RunCeremony(CircuitBcePrivacy, bceCS, testOperators[:4])
	if err != nil {
		t.Fatalf("RunCeremony: %v", err)
	}
	if err := VerifyCeremony(transcript, pk, vk, testOperators); err == nil {
		t.Error("expected VerifyCeremony to flag the missing 5th operator's contribution")
	}
}

func TestExportVerifyingKeyNotEmpty(t *testing.T) {
	bceCS, _, err := CompileCircuits()
	if err != nil {
		t.Fatalf("CompileCircuits: %v", err)
	}
	_, vk, _, err := RunCeremony(CircuitBcePrivacy, bceCS, testOperators)
	if err != nil {
		t.Fatalf("RunCeremony: %v", err)
	}
	exported, err := ExportVerifyingKey(vk)
	if err != nil {
		t.Fatalf("ExportVerifyingKey: %v", err)
	}
	if len(exported) == 0 {
		t.Error("expected a non-empty serialized verifying key")
	}
}
