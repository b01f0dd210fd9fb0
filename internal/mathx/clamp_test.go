package mathx

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		expected  int
	}{
		{"inside", 10, 5, 500, 10},
		{"below", 1, 5, 500, 5},
		{"above", 900, 5, 500, 500},
		{"swapped bounds", 900, 500, 5, 500},
		{"on lower edge", 5, 5, 500, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.expected {
				t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.expected)
			}
		})
	}
}

func TestRoundTo1dp(t *testing.T) {
	if got := RoundTo1dp(21.37); got != 21.3 {
		t.Errorf("RoundTo1dp(21.37) = %v, want 21.3", got)
	}
	if got := RoundTo1dp(-4.25); got != -4.2 {
		t.Errorf("RoundTo1dp(-4.25) = %v, want -4.2", got)
	}
}
