package simnet

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// ErrInfeasible indicates the LP had no feasible solution meeting the target.
var ErrInfeasible = errors.New("lp infeasible")

// solveLP runs the simplex algorithm to maximise the weighted allocation
// subject to capacity constraints and a total equal to target.
func solveLP(weights, caps []float64, target float64) ([]float64, error) {
	c := make([]float64, len(weights))
	for i, w := range weights {
		c[i] = -w
	}

	g := mat.NewDense(len(caps), len(caps), nil)
	h := make([]float64, len(caps))
	for i, cp := range caps {
		g.Set(i, i, 1)
		h[i] = cp
	}

	A := mat.NewDense(1, len(caps), nil)
	for i := range caps {
		A.Set(0, i, 1)
	}
	b := []float64{target}

	cStd, AStd, bStd := lp.Convert(c, g, h, A, b)
	_, sol, err := lp.Simplex(cStd, AStd, bStd, 1e-7, nil)
	return sol, err
}

// lpSolve points to the function used to solve the LP. It can be overridden in
// tests to simulate solver failures.
var lpSolve = solveLP

// allocate splits target over producers with capacities caps, preferring
// higher weights. The LP result is clamped to capacity; when the solver fails
// or misses the target the greedy split is used instead.
func allocate(weights, caps []float64, target float64) []float64 {
	if len(caps) == 0 || target <= 0 {
		return make([]float64, len(caps))
	}
	sol, err := lpSolve(weights, caps, target)
	if err == nil && len(sol) >= len(caps) {
		out := make([]float64, len(caps))
		var sum float64
		for i := range caps {
			out[i] = math.Min(math.Max(sol[i], 0), caps[i])
			sum += out[i]
		}
		if math.Abs(sum-target) <= 1e-6 {
			return out
		}
	}
	return greedy(weights, caps, target)
}

func greedy(weights, caps []float64, target float64) []float64 {
	order := make([]int, len(caps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return weights[order[a]] > weights[order[b]] })
	out := make([]float64, len(caps))
	rest := target
	for _, i := range order {
		if rest <= 0 {
			break
		}
		out[i] = math.Min(caps[i], rest)
		rest -= out[i]
	}
	return out
}
