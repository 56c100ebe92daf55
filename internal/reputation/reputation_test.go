package reputation

import "testing"

func approxEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestThresholdTwoPeerCommunity(t *testing.T) {
	// voter@1.0, target@0.5 -> mean=0.75, stddev=0.25, threshold=0.5
	threshold := Threshold([]float64{1.0, 0.5}, 1.0)
	if !approxEqual(threshold, 0.5, 1e-9) {
		t.Fatalf("expected threshold 0.5, got %v", threshold)
	}
}

func TestThresholdThreePeerCommunity(t *testing.T) {
	// [0.9, 0.9, 0.05] -> mean~=0.6167, stddev~=0.4007, threshold~=0.2160
	threshold := Threshold([]float64{0.9, 0.9, 0.05}, 1.0)
	if !approxEqual(threshold, 0.2160, 1e-3) {
		t.Fatalf("expected threshold ~0.2160, got %v", threshold)
	}
}

func TestThresholdZeroStdDevEqualsMean(t *testing.T) {
	threshold := Threshold([]float64{0.7, 0.7, 0.7}, 1.0)
	if !approxEqual(threshold, 0.7, 1e-9) {
		t.Fatalf("expected threshold to equal mean when sigma=0, got %v", threshold)
	}
}

func TestThresholdNeverNegative(t *testing.T) {
	threshold := Threshold([]float64{0.05, 0.95}, 10.0)
	if threshold != 0 {
		t.Fatalf("expected threshold clamped to 0, got %v", threshold)
	}
}

func TestVoteWeightedMergeMaximalCallerOverrides(t *testing.T) {
	got := Vote(0.5, 0.9, 1.0)
	if got != 0.9 {
		t.Fatalf("expected maximal-weight caller to override entirely, got %v", got)
	}
}

func TestVoteScenario6FromSpec(t *testing.T) {
	// Node community = {voter@1.0, target@0.5}. voter votes target to 0.9.
	// new = clamp01(0.5*0 + 0.9*1) = 0.9
	got := Vote(0.5, 0.9, 1.0)
	if got != 0.9 {
		t.Fatalf("expected 0.9, got %v", got)
	}
}

func TestVoteClampsToUnitInterval(t *testing.T) {
	if v := Vote(0.5, 2.0, 0.5); v != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", v)
	}
}

func TestFiniteUnitRejectsOutOfRange(t *testing.T) {
	if FiniteUnit(1.1) || FiniteUnit(-0.1) {
		t.Fatal("expected out-of-range values to be rejected")
	}
	if !FiniteUnit(0) || !FiniteUnit(1) {
		t.Fatal("expected boundary values 0 and 1 to be accepted")
	}
}
