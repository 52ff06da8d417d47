package rent

import (
	"github.com/noah-isme/backend-properti/internal/money"
)

// RateSource identifies which rule produced a resolved rent figure.
type RateSource string

const (
	// RateSourceUnitFlatOverride means the unit carries a flat monthly rent.
	RateSourceUnitFlatOverride RateSource = "unit-flat-override"
	// RateSourceUnitRateOverride means the unit carries its own per-sqm rate.
	RateSourceUnitRateOverride RateSource = "unit-rate-override"
	// RateSourceFloorOverride means a policy floor override matched the unit's floor.
	RateSourceFloorOverride RateSource = "floor-override"
	// RateSourcePolicyComputed means the rate came from the base-rate formula.
	RateSourcePolicyComputed RateSource = "policy-computed"
	// RateSourcePolicyComputedClamped means the formula result was raised to the policy minimum.
	RateSourcePolicyComputedClamped RateSource = "policy-computed-clamped"
	// RateSourceInsufficientData means floor or area was missing; no rent was produced.
	RateSourceInsufficientData RateSource = "insufficient-data"
)

// FloorRate pins a per-sqm rate to a specific floor.
type FloorRate struct {
	Floor      int     `json:"floor"`
	RatePerSqm float64 `json:"ratePerSqm"`
}

// Policy is a building-level pricing policy. It is replaced wholesale on
// update; there is no partial-field merge.
type Policy struct {
	BaseRatePerSqm        float64     `json:"baseRatePerSqm"`
	DecrementPerFloor     *float64    `json:"decrementPerFloor,omitempty"`
	GroundFloorMultiplier *float64    `json:"groundFloorMultiplier,omitempty"`
	MinRatePerSqm         *float64    `json:"minRatePerSqm,omitempty"`
	EffectiveDate         *string     `json:"effectiveDate,omitempty"`
	FloorOverrides        []FloorRate `json:"floorOverrides,omitempty"`
}

// UnitAttributes are the per-unit inputs to rent resolution. Overrides take
// precedence over the policy-derived rate.
type UnitAttributes struct {
	Floor              *int     `json:"floor,omitempty"`
	Area               *float64 `json:"area,omitempty"`
	RatePerSqmOverride *float64 `json:"ratePerSqmOverride,omitempty"`
	FlatRentOverride   *float64 `json:"flatRentOverride,omitempty"`
}

// Breakdown records the inputs and adjustments behind a resolution so staff
// can audit how a figure was produced.
type Breakdown struct {
	RatePerSqm         float64  `json:"ratePerSqm"`
	Area               float64  `json:"area"`
	Floor              int      `json:"floor"`
	FloorDecrement     float64  `json:"floorDecrement"`
	GroundMultiplier   *float64 `json:"groundMultiplier,omitempty"`
	ClampedToMinimum   bool     `json:"clampedToMinimum"`
	OverrideRatePerSqm *float64 `json:"overrideRatePerSqm,omitempty"`
}

// Resolution is the outcome of resolving a unit's monthly rent. Total is nil
// when the resolver lacked the data to produce a figure; callers must keep
// the lease's existing rent in that case, never write zero.
type Resolution struct {
	Total      *float64   `json:"total"`
	RateSource RateSource `json:"rateSource"`
	Breakdown  *Breakdown `json:"breakdown,omitempty"`
}

// Resolve computes a unit's monthly rent from the building policy and the
// unit's attributes, rounded to the currency's minor-unit precision.
func Resolve(policy Policy, unit UnitAttributes, decimals int) Resolution {
	if unit.FlatRentOverride != nil {
		total := *unit.FlatRentOverride
		return Resolution{Total: &total, RateSource: RateSourceUnitFlatOverride}
	}

	if unit.Area == nil {
		return Resolution{RateSource: RateSourceInsufficientData}
	}
	area := *unit.Area

	if unit.RatePerSqmOverride != nil {
		rate := *unit.RatePerSqmOverride
		total := money.RoundHalfUp(rate*area, decimals)
		return Resolution{
			Total:      &total,
			RateSource: RateSourceUnitRateOverride,
			Breakdown:  &Breakdown{RatePerSqm: rate, Area: area, OverrideRatePerSqm: &rate},
		}
	}

	if unit.Floor == nil {
		return Resolution{RateSource: RateSourceInsufficientData}
	}
	floor := *unit.Floor

	for _, fr := range policy.FloorOverrides {
		if fr.Floor == floor {
			total := money.RoundHalfUp(fr.RatePerSqm*area, decimals)
			return Resolution{
				Total:      &total,
				RateSource: RateSourceFloorOverride,
				Breakdown:  &Breakdown{RatePerSqm: fr.RatePerSqm, Area: area, Floor: floor},
			}
		}
	}

	rate := policy.BaseRatePerSqm
	decrement := 0.0
	if policy.DecrementPerFloor != nil {
		floorsAboveFirst := floor - 1
		if floorsAboveFirst < 0 {
			floorsAboveFirst = 0
		}
		decrement = *policy.DecrementPerFloor * float64(floorsAboveFirst)
		rate -= decrement
	}
	breakdown := Breakdown{Area: area, Floor: floor, FloorDecrement: decrement}
	if floor <= 0 && policy.GroundFloorMultiplier != nil {
		rate *= *policy.GroundFloorMultiplier
		breakdown.GroundMultiplier = policy.GroundFloorMultiplier
	}

	source := RateSourcePolicyComputed
	if policy.MinRatePerSqm != nil && rate < *policy.MinRatePerSqm {
		rate = *policy.MinRatePerSqm
		breakdown.ClampedToMinimum = true
		source = RateSourcePolicyComputedClamped
	}
	breakdown.RatePerSqm = rate

	total := money.RoundHalfUp(rate*area, decimals)
	return Resolution{Total: &total, RateSource: source, Breakdown: &breakdown}
}
