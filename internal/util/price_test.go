package util

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		tick     string
		expected string
	}{
		{
			name:     "basic rounding down",
			x:        "1.2345",
			tick:     "0.01",
			expected: "1.23",
		},
		{
			name:     "tie rounds away from zero",
			x:        "1.235",
			tick:     "0.01",
			expected: "1.24",
		},
		{
			name:     "negative tie rounds away from zero",
			x:        "-1.235",
			tick:     "0.01",
			expected: "-1.24",
		},
		{
			name:     "larger tick size",
			x:        "1.27",
			tick:     "0.05",
			expected: "1.25",
		},
		{
			name:     "price tick",
			x:        "2.123456",
			tick:     "0.0001",
			expected: "2.1235",
		},
		{
			name:     "non-positive tick is a no-op",
			x:        "1.2345",
			tick:     "0",
			expected: "1.2345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(decimal.RequireFromString(tt.x), decimal.RequireFromString(tt.tick))
			if !result.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestSafeDiv(t *testing.T) {
	if got := SafeDiv(decimal.NewFromInt(10), decimal.Zero); !got.IsZero() {
		t.Errorf("SafeDiv by zero = %v, expected 0", got)
	}
	if got := SafeDiv(decimal.NewFromInt(10), decimal.NewFromInt(4)); !got.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("SafeDiv(10, 4) = %v, expected 2.5", got)
	}
}
