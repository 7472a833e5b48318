// Package risk holds run-level exposure limits applied to target weights.
package risk

// Policy limits target weights. Zero disables a limit.
type Policy struct {
	// MaxWeight caps |w| of any single symbol. 1 means no leverage per name.
	MaxWeight float64
	// MaxGross caps the sum of |w| over a target mapping.
	MaxGross float64
}

// Unlimited allows every weight.
func Unlimited() Policy { return Policy{} }

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
