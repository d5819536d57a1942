package solver

import "math"

// Penalties are the exponents of the four cost terms.
type Penalties struct {
	P     float64 `mapstructure:"penaltyP" json:"penalty_p"`
	W     float64 `mapstructure:"penaltyW" json:"penalty_w"`
	Cross float64 `mapstructure:"penaltyCross" json:"penalty_cross"`
	Over  float64 `mapstructure:"penaltyOver" json:"penalty_over"`
}

var DefaultPenalties = Penalties{P: 3, W: 3, Cross: 9, Over: 12}

// Cost scores a complete assignment; lower is better.
//
//	sum_i pr_i^P + sum_i wr_i^W + sum_i sum_j (pr_i + wr_j)^Cross
//	  + sum over overflow students of (pr_i + wr_i)^Over
//
// The cross term runs over every (i, j) pair of students, not only i == j.
// It is evaluated from rank histograms, which gives the same sum without
// the quadratic loop.
func (inst *Instance) Cost(assign []Assignment, pen Penalties) float64 {
	histP := make([]int, inst.NumChoicesP+1)
	histW := make([]int, inst.NumChoicesW+1)
	cost := 0.0
	for _, a := range assign {
		histP[a.ProjectRank]++
		histW[a.WorkPackageRank]++
		if a.ProjectRank == inst.NumChoicesP || a.WorkPackageRank == inst.NumChoicesW {
			cost += math.Pow(float64(a.ProjectRank+a.WorkPackageRank), pen.Over)
		}
	}
	for x, n := range histP {
		if n > 0 {
			cost += float64(n) * math.Pow(float64(x), pen.P)
		}
	}
	for y, n := range histW {
		if n > 0 {
			cost += float64(n) * math.Pow(float64(y), pen.W)
		}
	}
	for x, nx := range histP {
		if nx == 0 {
			continue
		}
		for y, ny := range histW {
			if ny > 0 {
				cost += float64(nx) * float64(ny) * math.Pow(float64(x+y), pen.Cross)
			}
		}
	}
	return cost
}
