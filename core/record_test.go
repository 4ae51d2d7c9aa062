package core

import "testing"

func TestBceRecordSignVerify(t *testing.T) {
	priv, pub, err := generateTestKeyPair(t)
	if err != nil {
		t.Fatal(err)
	}
	record := NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 5000, "commit-1", 1_700_000_000)
	record.Sign(priv)

	if err := record.Verify(pub); err != nil {
		t.Errorf("Verify failed on a freshly signed record: %v", err)
	}

	record.TotalChargesCents = 9999
	if err := record.Verify(pub); err == nil {
		t.Error("tampering with total_charges_cents should invalidate the signature")
	}
}

func TestValidateStructureRejectsMissingFields(t *testing.T) {
	record := NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "", "pair-1", 1000, "commit-1", 1_700_000_000)
	record.IMSI = "310150123456789"
	if err := record.ValidateStructure(); err == nil {
		t.Error("expected ValidateStructure to reject a record missing period_hash")
	}

	record.PeriodHash = "period-1"
	if err := record.ValidateStructure(); err != nil {
		t.Errorf("ValidateStructure should accept a fully populated record: %v", err)
	}
}

func TestValidateStructureRejectsSameOperator(t *testing.T) {
	record := NewBceRecord("rec-1", "T-Mobile-DE", "T-Mobile-DE", "period-1", "pair-1", 1000, "commit-1", 1_700_000_000)
	record.IMSI = "310150123456789"
	if err := record.ValidateStructure(); err == nil {
		t.Error("expected ValidateStructure to reject matching home/visited operators")
	}
}

func TestValidateChargeEquationWithinTolerance(t *testing.T) {
	record := NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1049, "commit-1", 1_700_000_000)
	record.CallMinutes = 1000
	record.CallRateCents = 1
	if err := record.ValidateChargeEquation(); err != nil {
		t.Errorf("charge within tolerance should pass: %v", err)
	}
}

func TestValidateChargeEquationOutsideTolerance(t *testing.T) {
	record := NewBceRecord("rec-1", "T-Mobile-DE", "Vodafone-UK", "period-1", "pair-1", 1051, "commit-1", 1_700_000_000)
	record.CallMinutes = 1000
	record.CallRateCents = 1
	if err := record.ValidateChargeEquation(); err == nil {
		t.Error("expected a charge mismatch beyond tolerance to be rejected")
	}
}

func TestRecordStatusCanTransitionTo(t *testing.T) {
	if !RecordPending.CanTransitionTo(RecordInProgress) {
		t.Error("pending should be able to move to in_progress")
	}
	if RecordPending.CanTransitionTo(RecordSettled) {
		t.Error("pending should not be able to skip straight to settled")
	}
	if !RecordInProgress.CanTransitionTo(RecordSettled) {
		t.Error("in_progress should be able to move to settled")
	}
	if RecordSettled.CanTransitionTo(RecordPending) {
		t.Error("settled must be terminal")
	}
}

func TestBilateralKey(t *testing.T) {
	if BilateralKey("A", "B") == BilateralKey("B", "A") {
		t.Error("bilateral key must be direction-sensitive")
	}
	if BilateralKey("A", "B") != "bilateral:A:B" {
		t.Errorf("unexpected key format: %s", BilateralKey("A", "B"))
	}
}
