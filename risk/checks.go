package risk

import (
	"fmt"
	"sort"
)

const (
	CodeWeightTooHigh = "WEIGHT_TOO_HIGH"
	CodeGrossTooHigh  = "GROSS_TOO_HIGH"
)

type Violation struct {
	Code   string
	Symbol string
	Msg    string
}

// Decision is the outcome of CheckWeights. Accepted holds the weights that may
// be traded; every rejected symbol has a Violation.
type Decision struct {
	Allowed    bool
	Accepted   map[string]float64
	Violations []Violation

	Gross float64
}

func (d *Decision) add(code, symbol, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Symbol: symbol, Msg: msg})
	d.Allowed = false
}

// CheckWeights drops weights that exceed the per-symbol limit. When the gross
// exposure of the remaining weights exceeds MaxGross no weight is accepted.
func CheckWeights(p Policy, weights map[string]float64) Decision {
	d := Decision{Allowed: true, Accepted: make(map[string]float64, len(weights))}

	symbols := make([]string, 0, len(weights))
	for s := range weights {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, s := range symbols {
		w := weights[s]
		if p.MaxWeight > 0 && abs(w) > p.MaxWeight {
			d.add(CodeWeightTooHigh, s,
				fmt.Sprintf("weight %.4f exceeds max %.4f", w, p.MaxWeight))
			continue
		}
		d.Accepted[s] = w
		d.Gross += abs(w)
	}

	if p.MaxGross > 0 && d.Gross > p.MaxGross {
		d.add(CodeGrossTooHigh, "",
			fmt.Sprintf("gross weight %.4f exceeds max %.4f", d.Gross, p.MaxGross))
		d.Accepted = map[string]float64{}
	}
	return d
}
