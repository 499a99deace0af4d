package psf

import (
	"math"

	gonumMat "gonum.org/v1/gonum/mat"
)

// lmTolerance and lmMaxIterations replace this project's previous
// 1e-8/200 pair: a 1e-6 relative-improvement tolerance and a 100
// iteration cap, matched to the fitting budget a per-frame batch of
// several hundred stars needs to stay interactive.
const (
	lmTolerance      = 1e-6
	lmMaxIterations  = 100
	lmMaxLambdaTries = 20
	lmLambdaInit     = 1e-3
	lmLambdaUp       = 10.0
	lmLambdaDown     = 0.1
)

// lmResult carries the fitted parameters plus convergence bookkeeping
// the predecessor's driver discarded after returning best-effort params.
type lmResult struct {
	params     []float64
	converged  bool
	iterations int
	cost       float64
}

// levenbergMarquardt fits params against samples (each a 2-vector
// input with a paired target value) using the value/gradient pair for
// the given model, within box constraints [lower, upper].
func levenbergMarquardt(model int, x0, lower, upper []float64, inputs [][]float64, targets []float64) lmResult {
	n := len(x0)
	m := len(targets)
	value := valueFunc(model)
	grad := gradFunc(model)

	params := make([]float64, n)
	copy(params, x0)
	clampLM(params, lower, upper)

	residuals := make([]float64, m)
	jacobian := make([][]float64, m)
	for i := range jacobian {
		jacobian[i] = make([]float64, n)
	}

	cost := computeResidualsAndJacobian(value, grad, params, inputs, targets, residuals, jacobian)
	lambda := lmLambdaInit

	converged := false
	iter := 0
	for ; iter < lmMaxIterations; iter++ {
		jtj := gonumMat.NewSymDense(n, nil)
		jtf := make([]float64, n)
		for i := 0; i < n; i++ {
			var f float64
			for k := 0; k < m; k++ {
				f += jacobian[k][i] * residuals[k]
			}
			jtf[i] = f
			for j := i; j < n; j++ {
				var s float64
				for k := 0; k < m; k++ {
					s += jacobian[k][i] * jacobian[k][j]
				}
				jtj.SetSym(i, j, s)
			}
		}

		gradNorm := 0.0
		for i := 0; i < n; i++ {
			gradNorm += jtf[i] * jtf[i]
		}
		gradNorm = math.Sqrt(gradNorm)
		if gradNorm < lmTolerance*(1.0+cost) {
			converged = true
			break
		}

		improved := false
		for try := 0; try < lmMaxLambdaTries; try++ {
			damped := gonumMat.NewDense(n, n, nil)
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					damped.Set(i, j, jtj.At(i, j))
				}
				// Additive damping keeps the system solvable when a column
				// of J is all zero, as theta's is whenever sigmaX == sigmaY.
				damped.Set(i, i, jtj.At(i, i)+lambda)
			}

			delta, ok := solveLinear(damped, jtf)
			if !ok {
				lambda *= lmLambdaUp
				continue
			}

			candidate := make([]float64, n)
			for i := range candidate {
				// J holds d(residual)/d(param), so the descent step is -delta.
				candidate[i] = params[i] - delta[i]
			}
			clampLM(candidate, lower, upper)

			candResiduals := make([]float64, m)
			candJacobian := make([][]float64, m)
			for i := range candJacobian {
				candJacobian[i] = make([]float64, n)
			}
			candCost := computeResidualsAndJacobian(value, grad, candidate, inputs, targets, candResiduals, candJacobian)

			if candCost < cost {
				relImprovement := (cost - candCost) / math.Max(cost, 1e-300)
				copy(params, candidate)
				residuals = candResiduals
				jacobian = candJacobian
				cost = candCost
				lambda *= lmLambdaDown
				improved = true
				if relImprovement < lmTolerance {
					converged = true
				}
				break
			}
			lambda *= lmLambdaUp
		}

		if !improved {
			break
		}
		if converged {
			iter++
			break
		}
	}

	return lmResult{params: params, converged: converged, iterations: iter, cost: cost}
}

func computeResidualsAndJacobian(value modelFunc, grad gradientFunc, params []float64, inputs [][]float64, targets []float64, residuals []float64, jacobian [][]float64) float64 {
	var sumSq float64
	for k, input := range inputs {
		predicted := value(params, input)
		residuals[k] = targets[k] - predicted
		sumSq += residuals[k] * residuals[k]

		g := jacobian[k]
		grad(params, input, g)
		for i := range g {
			// residual = target - model, so d(residual)/d(param) = -d(model)/d(param)
			jacobian[k][i] = -g[i]
		}
	}
	return sumOfSquares(residuals)
}

func sumOfSquares(residuals []float64) float64 {
	var s float64
	for _, r := range residuals {
		s += r * r
	}
	return 0.5 * s
}

func clampLM(params, lower, upper []float64) {
	for i := range params {
		if lower != nil && params[i] < lower[i] {
			params[i] = lower[i]
		}
		if upper != nil && params[i] > upper[i] {
			params[i] = upper[i]
		}
	}
}

// solveLinear solves A x = b via gonum's Dense.Solve, replacing this
// project's previous hand-rolled partial-pivot Gaussian elimination.
func solveLinear(a *gonumMat.Dense, b []float64) ([]float64, bool) {
	n := len(b)
	bVec := gonumMat.NewVecDense(n, b)
	var x gonumMat.VecDense
	if err := x.SolveVec(a, bVec); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = x.AtVec(i)
	}
	return out, true
}
