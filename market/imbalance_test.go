package market

import (
	"testing"
)

func TestCalculateImbalance(t *testing.T) {
	tests := []struct {
		name      string
		bidVolume float64
		askVolume float64
		expected  float64
	}{
		{
			name:      "Equal volumes",
			bidVolume: 100,
			askVolume: 100,
			expected:  0,
		},
		{
			name:      "More bid volume",
			bidVolume: 150,
			askVolume: 100,
			expected:  0.2,
		},
		{
			name:      "More ask volume",
			bidVolume: 100,
			askVolume: 150,
			expected:  -0.2,
		},
		{
			name:      "Zero volumes",
			bidVolume: 0,
			askVolume: 0,
			expected:  0,
		},
		{
			name:      "One zero volume",
			bidVolume: 100,
			askVolume: 0,
			expected:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateImbalance(tt.bidVolume, tt.askVolume)
			if result != tt.expected {
				t.Errorf("CalculateImbalance(%f, %f) = %f, want %f",
					tt.bidVolume, tt.askVolume, result, tt.expected)
			}
		})
	}
}

func TestCalculateImbalanceFromLevels(t *testing.T) {
	bids := []Level{{100.0, 2}, {99.9, 3}, {99.8, 1}}
	asks := []Level{{100.1, 1}, {100.2, 2}, {100.3, 3}}

	if got, want := CalculateImbalanceFromLevels(bids, asks, 1), CalculateImbalance(2, 1); got != want {
		t.Errorf("1 level = %f, want %f", got, want)
	}
	if got, want := CalculateImbalanceFromLevels(bids, asks, 2), CalculateImbalance(5, 3); got != want {
		t.Errorf("2 levels = %f, want %f", got, want)
	}
	if got, want := CalculateImbalanceFromLevels(bids, asks, 10), CalculateImbalance(6, 6); got != want {
		t.Errorf("10 levels = %f, want %f", got, want)
	}
	if got := CalculateImbalanceFromLevels(bids, nil, 5); got != 0 {
		t.Errorf("one-sided book should be 0, got %f", got)
	}
}
