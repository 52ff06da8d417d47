package money

import "testing"

func TestRoundHalfUpTwoDecimals(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1.005, 1.01},
		{1.004, 1.0},
		{225.0, 225.0},
		{19200.0, 19200.0},
	}
	for _, tc := range cases {
		if got := RoundHalfUp(tc.in, 2); got != tc.want {
			t.Fatalf("RoundHalfUp(%v, 2) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRoundHalfUpWholeUnits(t *testing.T) {
	if got := RoundHalfUp(224.5, 0); got != 225 {
		t.Fatalf("expected 225, got %v", got)
	}
	if got := RoundHalfUp(224.49, 0); got != 224 {
		t.Fatalf("expected 224, got %v", got)
	}
	if got := RoundHalfUp(-1.5, 0); got != -2 {
		t.Fatalf("expected -2, got %v", got)
	}
}
