package rent

import "testing"

func f64(v float64) *float64 { return &v }
func iptr(v int) *int        { return &v }

func TestResolvePolicyComputed(t *testing.T) {
	policy := Policy{BaseRatePerSqm: 500, DecrementPerFloor: f64(10)}
	unit := UnitAttributes{Floor: iptr(3), Area: f64(40)}

	res := Resolve(policy, unit, 2)
	if res.RateSource != RateSourcePolicyComputed {
		t.Fatalf("rate source = %s, want %s", res.RateSource, RateSourcePolicyComputed)
	}
	if res.Total == nil || *res.Total != 19200 {
		t.Fatalf("total = %v, want 19200", res.Total)
	}
	if res.Breakdown == nil || res.Breakdown.RatePerSqm != 480 {
		t.Fatalf("breakdown rate = %v, want 480", res.Breakdown)
	}
	if res.Breakdown.FloorDecrement != 20 {
		t.Fatalf("floor decrement = %v, want 20", res.Breakdown.FloorDecrement)
	}
}

func TestResolveFirstFloorNoDecrement(t *testing.T) {
	policy := Policy{BaseRatePerSqm: 500, DecrementPerFloor: f64(10)}
	unit := UnitAttributes{Floor: iptr(1), Area: f64(10)}

	res := Resolve(policy, unit, 2)
	if res.Total == nil || *res.Total != 5000 {
		t.Fatalf("total = %v, want 5000", res.Total)
	}
	if res.Breakdown.FloorDecrement != 0 {
		t.Fatalf("floor decrement = %v, want 0", res.Breakdown.FloorDecrement)
	}
}

func TestResolveGroundFloorMultiplier(t *testing.T) {
	policy := Policy{
		BaseRatePerSqm:        500,
		DecrementPerFloor:     f64(10),
		GroundFloorMultiplier: f64(1.2),
	}
	unit := UnitAttributes{Floor: iptr(0), Area: f64(10)}

	res := Resolve(policy, unit, 2)
	if res.RateSource != RateSourcePolicyComputed {
		t.Fatalf("rate source = %s", res.RateSource)
	}
	// floor 0 takes no decrement and the multiplier applies: 500 * 1.2 = 600
	if res.Total == nil || *res.Total != 6000 {
		t.Fatalf("total = %v, want 6000", res.Total)
	}
	if res.Breakdown.GroundMultiplier == nil {
		t.Fatal("expected ground multiplier recorded in breakdown")
	}
}

func TestResolveMinRateClamp(t *testing.T) {
	policy := Policy{
		BaseRatePerSqm:    500,
		DecrementPerFloor: f64(100),
		MinRatePerSqm:     f64(350),
	}
	unit := UnitAttributes{Floor: iptr(5), Area: f64(10)}

	res := Resolve(policy, unit, 2)
	if res.RateSource != RateSourcePolicyComputedClamped {
		t.Fatalf("rate source = %s, want %s", res.RateSource, RateSourcePolicyComputedClamped)
	}
	if res.Total == nil || *res.Total != 3500 {
		t.Fatalf("total = %v, want 3500", res.Total)
	}
	if !res.Breakdown.ClampedToMinimum {
		t.Fatal("expected breakdown to record minimum clamp")
	}
}

func TestResolveFloorOverride(t *testing.T) {
	policy := Policy{
		BaseRatePerSqm: 500,
		FloorOverrides: []FloorRate{{Floor: 2, RatePerSqm: 725}},
	}
	unit := UnitAttributes{Floor: iptr(2), Area: f64(20)}

	res := Resolve(policy, unit, 2)
	if res.RateSource != RateSourceFloorOverride {
		t.Fatalf("rate source = %s, want %s", res.RateSource, RateSourceFloorOverride)
	}
	if res.Total == nil || *res.Total != 14500 {
		t.Fatalf("total = %v, want 14500", res.Total)
	}
}

func TestResolveUnitRateOverride(t *testing.T) {
	policy := Policy{
		BaseRatePerSqm: 500,
		FloorOverrides: []FloorRate{{Floor: 2, RatePerSqm: 725}},
	}
	unit := UnitAttributes{Floor: iptr(2), Area: f64(20), RatePerSqmOverride: f64(610)}

	res := Resolve(policy, unit, 2)
	if res.RateSource != RateSourceUnitRateOverride {
		t.Fatalf("rate source = %s, want %s", res.RateSource, RateSourceUnitRateOverride)
	}
	if res.Total == nil || *res.Total != 12200 {
		t.Fatalf("total = %v, want 12200", res.Total)
	}
}

func TestResolveFlatOverrideWinsEverything(t *testing.T) {
	policy := Policy{BaseRatePerSqm: 500}
	unit := UnitAttributes{
		Floor:              iptr(3),
		Area:               f64(40),
		RatePerSqmOverride: f64(610),
		FlatRentOverride:   f64(9999.5),
	}

	res := Resolve(policy, unit, 2)
	if res.RateSource != RateSourceUnitFlatOverride {
		t.Fatalf("rate source = %s, want %s", res.RateSource, RateSourceUnitFlatOverride)
	}
	if res.Total == nil || *res.Total != 9999.5 {
		t.Fatalf("total = %v, want 9999.5", res.Total)
	}
	if res.Breakdown != nil {
		t.Fatal("flat override should not carry a breakdown")
	}
}

func TestResolveInsufficientData(t *testing.T) {
	policy := Policy{BaseRatePerSqm: 500}

	missingArea := Resolve(policy, UnitAttributes{Floor: iptr(3)}, 2)
	if missingArea.RateSource != RateSourceInsufficientData {
		t.Fatalf("rate source = %s", missingArea.RateSource)
	}
	if missingArea.Total != nil {
		t.Fatalf("total = %v, want nil", *missingArea.Total)
	}

	missingFloor := Resolve(policy, UnitAttributes{Area: f64(40)}, 2)
	if missingFloor.RateSource != RateSourceInsufficientData {
		t.Fatalf("rate source = %s", missingFloor.RateSource)
	}
	if missingFloor.Total != nil {
		t.Fatalf("total = %v, want nil", *missingFloor.Total)
	}
}

func TestResolveRounding(t *testing.T) {
	// 333.335 * 3 = 1000.005 rounds half up at two decimals
	policy := Policy{BaseRatePerSqm: 333.335}
	unit := UnitAttributes{Floor: iptr(1), Area: f64(3)}

	res := Resolve(policy, unit, 2)
	if res.Total == nil || *res.Total != 1000.01 {
		t.Fatalf("total = %v, want 1000.01", res.Total)
	}
}
