package models

import (
	"encoding/json"
	"testing"
	"time"
)

func minimalUnit() *Unit {
	return &Unit{
		ID:        "019526b2-f68a-7c3e-a0b4-1d2e3f4a5b6c",
		Type:      UnitAssertion,
		Content:   "The boiling point of water at sea level is 100C.",
		CreatedAt: time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC),
		Author:    "agent-weathersim-v2",
	}
}

func TestValidateMinimalUnit(t *testing.T) {
	if err := Validate(minimalUnit()); err != nil {
		t.Fatalf("expected valid unit, got %v", err)
	}
}

func TestValidateRejectsNonUUID(t *testing.T) {
	u := minimalUnit()
	u.ID = "not-a-uuid"
	if err := Validate(u); err == nil {
		t.Fatal("expected error for non-uuid id")
	}
}

func TestValidateRejectsWrongUUIDVersion(t *testing.T) {
	u := minimalUnit()
	u.ID = "550e8400-e29b-41d4-a716-446655440000" // v4
	if err := Validate(u); err == nil {
		t.Fatal("expected error for non-v7 uuid")
	}
}

func TestValidateRejectsEmptyContent(t *testing.T) {
	u := minimalUnit()
	u.Content = ""
	if err := Validate(u); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestValidateConfidenceBoundaries(t *testing.T) {
	u := minimalUnit()
	for _, v := range []float64{0.0, 1.0} {
		c := v
		u.Confidence = &c
		if err := Validate(u); err != nil {
			t.Fatalf("confidence %v should be valid: %v", v, err)
		}
	}
	for _, v := range []float64{1.1, -0.1} {
		c := v
		u.Confidence = &c
		if err := Validate(u); err == nil {
			t.Fatalf("confidence %v should be invalid", v)
		}
	}
}

func TestValidateEmptyAssumptionsArrayRejected(t *testing.T) {
	u := minimalUnit()
	u.Assumptions = []string{}
	if err := Validate(u); err == nil {
		t.Fatal("expected error for empty assumptions array")
	}
}

func TestValidateEmptyAssumptionItemRejected(t *testing.T) {
	u := minimalUnit()
	u.Assumptions = []string{"valid", ""}
	if err := Validate(u); err == nil {
		t.Fatal("expected error for blank assumption item")
	}
}

func TestValidateReferencesRequireValidUUID(t *testing.T) {
	u := minimalUnit()
	u.References = []Reference{{ID: "not-a-uuid", Rel: RelSupports}}
	if err := Validate(u); err == nil {
		t.Fatal("expected error for invalid reference id")
	}
}

func TestValidateForwardReferenceAccepted(t *testing.T) {
	u := minimalUnit()
	u.References = []Reference{{ID: "019526b2-f68a-7c3e-a0b4-1d2e3f4a5b6d", Rel: RelDerivesFrom}}
	if err := Validate(u); err != nil {
		t.Fatalf("forward reference should be accepted: %v", err)
	}
}

func TestValidateLimitedVisibilityRequiresAudience(t *testing.T) {
	u := minimalUnit()
	u.Visibility = VisibilityLimited
	if err := Validate(u); err == nil {
		t.Fatal("expected error for limited visibility without audience")
	}
	u.Audience = []string{u.Author}
	if err := Validate(u); err != nil {
		t.Fatalf("limited visibility with audience should be valid: %v", err)
	}
}

func TestValidateExtensionFieldNames(t *testing.T) {
	u := minimalUnit()
	u.Extensions = map[string]any{"foo": "bar"}
	if err := Validate(u); err == nil {
		t.Fatal("expected error for malformed extension field name")
	}
	u.Extensions = map[string]any{"x-org.semanticweft.priority": "high"}
	if err := Validate(u); err != nil {
		t.Fatalf("well-formed extension field should be valid: %v", err)
	}
}

func TestUnitJSONRoundTripWithExtensionsAndLabelledSource(t *testing.T) {
	u := minimalUnit()
	u.Source = &Source{Label: "WMO Global Climate Report 2025", URI: "https://wmo.int/reports/global-climate-2025", HasURI: true}
	u.Extensions = map[string]any{"x-org.semanticweft.priority": "high"}

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Unit
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != u.ID {
		t.Fatalf("id mismatch after round-trip: got %q want %q", back.ID, u.ID)
	}
	if back.Source == nil || back.Source.Label != u.Source.Label {
		t.Fatalf("labelled source did not round-trip: %+v", back.Source)
	}
	if back.Extensions["x-org.semanticweft.priority"] != "high" {
		t.Fatalf("extension field did not round-trip: %+v", back.Extensions)
	}
}

func TestUnitJSONBareURISource(t *testing.T) {
	data := []byte(`"https://example.com/report"`)
	var s Source
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal bare uri source: %v", err)
	}
	if !s.IsBareURI() || s.URI != "https://example.com/report" {
		t.Fatalf("bare uri source parsed incorrectly: %+v", s)
	}
}
