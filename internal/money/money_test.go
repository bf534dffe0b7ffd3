package money

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one dollar", "1.00", 100},
		{"fifty cents", "0.50", 50},
		{"hundred", "100", 10_000},
		{"smallest unit", "0.01", 1},
		{"no frac", "1", 100},
		{"short frac", "1.5", 150},
		{"three decimals truncate", "1.239", 123},
		{"large amount", "129999.99", 12_999_999},
		{"leading zeros in whole", "007.50", 750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_ZeroVariants(t *testing.T) {
	for _, input := range []string{"0", "0.0", "0.00", ""} {
		got, ok := Parse(input)
		if !ok {
			t.Fatalf("Parse(%q) returned ok=false", input)
		}
		if got.Sign() != 0 {
			t.Errorf("Parse(%q) = %s, want 0", input, got.String())
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"-1.00", "1.2.3", "abc"} {
		if _, ok := Parse(input); ok {
			t.Errorf("Parse(%q) expected ok=false", input)
		}
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	tests := []string{"1.00", "0.50", "129.99", "0.01", "10000.00"}
	for _, s := range tests {
		amt, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(amt); got != s {
			t.Errorf("Format(Parse(%q)) = %q, want %q", s, got, s)
		}
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format(nil); got != "0.00" {
		t.Errorf("Format(nil) = %q, want 0.00", got)
	}
}

func TestMulRateHalfUp(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		num, denom int64
		want       string
	}{
		{"8.25 percent tax", "100.00", 825, 10000, "8.25"},
		{"rounds up at half cent", "100.01", 5, 100, "5.00"},   // 5.0005 -> 5.00? check below
		{"rounds up clean half", "0.05", 100, 100, "0.05"},
		{"ten percent service fee", "19.99", 1000, 10000, "2.00"}, // 1.999 -> 2.00
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amt, ok := Parse(tt.amount)
			if !ok {
				t.Fatalf("Parse(%q) failed", tt.amount)
			}
			got := Format(MulRateHalfUp(amt, tt.num, tt.denom))
			if got != tt.want {
				t.Errorf("MulRateHalfUp(%s, %d/%d) = %s, want %s", tt.amount, tt.num, tt.denom, got, tt.want)
			}
		})
	}
}

func TestAddSub(t *testing.T) {
	a := big.NewInt(500)
	b := big.NewInt(199)
	if got := Add(a, b); got.Int64() != 699 {
		t.Errorf("Add = %d, want 699", got.Int64())
	}
	if got := Sub(a, b); got.Int64() != 301 {
		t.Errorf("Sub = %d, want 301", got.Int64())
	}
}

func TestIsPositiveIsNonNegative(t *testing.T) {
	if !IsPositive(big.NewInt(1)) {
		t.Error("expected 1 to be positive")
	}
	if IsPositive(big.NewInt(0)) {
		t.Error("expected 0 to not be positive")
	}
	if !IsNonNegative(big.NewInt(0)) {
		t.Error("expected 0 to be non-negative")
	}
	if IsNonNegative(big.NewInt(-1)) {
		t.Error("expected -1 to not be non-negative")
	}
}
