package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   Policy
		weights  map[string]float64
		accepted map[string]float64
		codes    []string
	}{
		{
			name:     "unlimited",
			policy:   Unlimited(),
			weights:  map[string]float64{"A": 3, "B": -2},
			accepted: map[string]float64{"A": 3, "B": -2},
		},
		{
			name:     "per symbol cap drops only offender",
			policy:   Policy{MaxWeight: 1},
			weights:  map[string]float64{"A": 0.5, "B": -1.5},
			accepted: map[string]float64{"A": 0.5},
			codes:    []string{CodeWeightTooHigh},
		},
		{
			name:     "gross cap rejects all",
			policy:   Policy{MaxGross: 1},
			weights:  map[string]float64{"A": 0.6, "B": -0.6},
			accepted: map[string]float64{},
			codes:    []string{CodeGrossTooHigh},
		},
		{
			name:     "zero weights always pass",
			policy:   Policy{MaxWeight: 1, MaxGross: 1},
			weights:  map[string]float64{"A": 0, "B": 1},
			accepted: map[string]float64{"A": 0, "B": 1},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := CheckWeights(tt.policy, tt.weights)
			assert.Equal(t, tt.accepted, d.Accepted)
			assert.Equal(t, len(tt.codes) == 0, d.Allowed)

			var codes []string
			for _, v := range d.Violations {
				codes = append(codes, v.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}
