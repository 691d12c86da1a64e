package solver

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned by a LinearSolver when the weighted normal
// equations have no unique solution (e.g. fewer than 4 channels, or a
// degenerate satellite geometry).
var ErrSingular = errors.New("solver: singular normal equations")

// LinearSolver solves the weighted normal equations Δ = (HᵀWH)⁻¹HᵀW·dPR
// for one Gauss-Newton iteration of the position/clock-bias fix. H is
// the n×4 Jacobian (one row per channel), weight is the diagonal of W,
// and dPR is the pseudorange residual vector. Two independent
// implementations exist so the explicit hardware-faithful cofactor
// path can be cross-checked against a general linear-algebra library —
// see spec section 9's statement that the inversion method is not
// prescribed, only the Jacobian/weight/residual contract.
type LinearSolver interface {
	Solve(jac [][4]float64, weight, dPR []float64) ([4]float64, error)
}

// CofactorSolver inverts the 4×4 normal matrix by explicit cofactor
// expansion, transcribed from solve.cpp's Solve function (the
// original embedded firmware's only option, with no linear-algebra
// library available).
type CofactorSolver struct{}

func (CofactorSolver) Solve(jac [][4]float64, weight, dPR []float64) ([4]float64, error) {
	var ma [4][4]float64
	n := len(jac)

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for i := 0; i < n; i++ {
				sum += jac[i][r] * weight[i] * jac[i][c]
			}
			ma[r][c] = sum
		}
	}

	det := determinant4(ma)
	if det == 0 {
		return [4]float64{}, ErrSingular
	}

	mb := cofactorInverse4(ma, det)

	// mc = inverse(H^T W H) * H^T  — shape 4xN
	mc := make([][4]float64, n)
	for i := 0; i < n; i++ {
		for r := 0; r < 4; r++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += mb[r][k] * jac[i][k]
			}
			mc[i][r] = sum
		}
	}

	var delta [4]float64
	for r := 0; r < 4; r++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += mc[i][r] * weight[i] * dPR[i]
		}
		delta[r] = sum
	}
	return delta, nil
}

// determinant4 expands the 4x4 determinant of m by the same cofactor
// formula as solve.cpp's Solve (one 24-term expansion).
func determinant4(m [4][4]float64) float64 {
	return m[0][3]*m[1][2]*m[2][1]*m[3][0] - m[0][2]*m[1][3]*m[2][1]*m[3][0] - m[0][3]*m[1][1]*m[2][2]*m[3][0] + m[0][1]*m[1][3]*m[2][2]*m[3][0] +
		m[0][2]*m[1][1]*m[2][3]*m[3][0] - m[0][1]*m[1][2]*m[2][3]*m[3][0] - m[0][3]*m[1][2]*m[2][0]*m[3][1] + m[0][2]*m[1][3]*m[2][0]*m[3][1] +
		m[0][3]*m[1][0]*m[2][2]*m[3][1] - m[0][0]*m[1][3]*m[2][2]*m[3][1] - m[0][2]*m[1][0]*m[2][3]*m[3][1] + m[0][0]*m[1][2]*m[2][3]*m[3][1] +
		m[0][3]*m[1][1]*m[2][0]*m[3][2] - m[0][1]*m[1][3]*m[2][0]*m[3][2] - m[0][3]*m[1][0]*m[2][1]*m[3][2] + m[0][0]*m[1][3]*m[2][1]*m[3][2] +
		m[0][1]*m[1][0]*m[2][3]*m[3][2] - m[0][0]*m[1][1]*m[2][3]*m[3][2] - m[0][2]*m[1][1]*m[2][0]*m[3][3] + m[0][1]*m[1][2]*m[2][0]*m[3][3] +
		m[0][2]*m[1][0]*m[2][1]*m[3][3] - m[0][0]*m[1][2]*m[2][1]*m[3][3] - m[0][1]*m[1][0]*m[2][2]*m[3][3] + m[0][0]*m[1][1]*m[2][2]*m[3][3]
}

// cofactorInverse4 returns the inverse of m given its precomputed
// determinant, matching solve.cpp's mb[][] cofactor terms verbatim.
func cofactorInverse4(m [4][4]float64, det float64) [4][4]float64 {
	var inv [4][4]float64

	inv[0][0] = (m[1][2]*m[2][3]*m[3][1] - m[1][3]*m[2][2]*m[3][1] + m[1][3]*m[2][1]*m[3][2] - m[1][1]*m[2][3]*m[3][2] - m[1][2]*m[2][1]*m[3][3] + m[1][1]*m[2][2]*m[3][3]) / det
	inv[0][1] = (m[0][3]*m[2][2]*m[3][1] - m[0][2]*m[2][3]*m[3][1] - m[0][3]*m[2][1]*m[3][2] + m[0][1]*m[2][3]*m[3][2] + m[0][2]*m[2][1]*m[3][3] - m[0][1]*m[2][2]*m[3][3]) / det
	inv[0][2] = (m[0][2]*m[1][3]*m[3][1] - m[0][3]*m[1][2]*m[3][1] + m[0][3]*m[1][1]*m[3][2] - m[0][1]*m[1][3]*m[3][2] - m[0][2]*m[1][1]*m[3][3] + m[0][1]*m[1][2]*m[3][3]) / det
	inv[0][3] = (m[0][3]*m[1][2]*m[2][1] - m[0][2]*m[1][3]*m[2][1] - m[0][3]*m[1][1]*m[2][2] + m[0][1]*m[1][3]*m[2][2] + m[0][2]*m[1][1]*m[2][3] - m[0][1]*m[1][2]*m[2][3]) / det

	inv[1][0] = (m[1][3]*m[2][2]*m[3][0] - m[1][2]*m[2][3]*m[3][0] - m[1][3]*m[2][0]*m[3][2] + m[1][0]*m[2][3]*m[3][2] + m[1][2]*m[2][0]*m[3][3] - m[1][0]*m[2][2]*m[3][3]) / det
	inv[1][1] = (m[0][2]*m[2][3]*m[3][0] - m[0][3]*m[2][2]*m[3][0] + m[0][3]*m[2][0]*m[3][2] - m[0][0]*m[2][3]*m[3][2] - m[0][2]*m[2][0]*m[3][3] + m[0][0]*m[2][2]*m[3][3]) / det
	inv[1][2] = (m[0][3]*m[1][2]*m[3][0] - m[0][2]*m[1][3]*m[3][0] - m[0][3]*m[1][0]*m[3][2] + m[0][0]*m[1][3]*m[3][2] + m[0][2]*m[1][0]*m[3][3] - m[0][0]*m[1][2]*m[3][3]) / det
	inv[1][3] = (m[0][2]*m[1][3]*m[2][0] - m[0][3]*m[1][2]*m[2][0] + m[0][3]*m[1][0]*m[2][2] - m[0][0]*m[1][3]*m[2][2] - m[0][2]*m[1][0]*m[2][3] + m[0][0]*m[1][2]*m[2][3]) / det

	inv[2][0] = (m[1][1]*m[2][3]*m[3][0] - m[1][3]*m[2][1]*m[3][0] + m[1][3]*m[2][0]*m[3][1] - m[1][0]*m[2][3]*m[3][1] - m[1][1]*m[2][0]*m[3][3] + m[1][0]*m[2][1]*m[3][3]) / det
	inv[2][1] = (m[0][3]*m[2][1]*m[3][0] - m[0][1]*m[2][3]*m[3][0] - m[0][3]*m[2][0]*m[3][1] + m[0][0]*m[2][3]*m[3][1] + m[0][1]*m[2][0]*m[3][3] - m[0][0]*m[2][1]*m[3][3]) / det
	inv[2][2] = (m[0][1]*m[1][3]*m[3][0] - m[0][3]*m[1][1]*m[3][0] + m[0][3]*m[1][0]*m[3][1] - m[0][0]*m[1][3]*m[3][1] - m[0][1]*m[1][0]*m[3][3] + m[0][0]*m[1][1]*m[3][3]) / det
	inv[2][3] = (m[0][3]*m[1][1]*m[2][0] - m[0][1]*m[1][3]*m[2][0] - m[0][3]*m[1][0]*m[2][1] + m[0][0]*m[1][3]*m[2][1] + m[0][1]*m[1][0]*m[2][3] - m[0][0]*m[1][1]*m[2][3]) / det

	inv[3][0] = (m[1][2]*m[2][1]*m[3][0] - m[1][1]*m[2][2]*m[3][0] - m[1][2]*m[2][0]*m[3][1] + m[1][0]*m[2][2]*m[3][1] + m[1][1]*m[2][0]*m[3][2] - m[1][0]*m[2][1]*m[3][2]) / det
	inv[3][1] = (m[0][1]*m[2][2]*m[3][0] - m[0][2]*m[2][1]*m[3][0] + m[0][2]*m[2][0]*m[3][1] - m[0][0]*m[2][2]*m[3][1] - m[0][1]*m[2][0]*m[3][2] + m[0][0]*m[2][1]*m[3][2]) / det
	inv[3][2] = (m[0][2]*m[1][1]*m[3][0] - m[0][1]*m[1][2]*m[3][0] - m[0][2]*m[1][0]*m[3][1] + m[0][0]*m[1][2]*m[3][1] + m[0][1]*m[1][0]*m[3][2] - m[0][0]*m[1][1]*m[3][2]) / det
	inv[3][3] = (m[0][1]*m[1][2]*m[2][0] - m[0][2]*m[1][1]*m[2][0] + m[0][2]*m[1][0]*m[2][1] - m[0][0]*m[1][2]*m[2][1] - m[0][1]*m[1][0]*m[2][2] + m[0][0]*m[1][1]*m[2][2]) / det

	return inv
}

// GonumSolver solves the same normal equations with gonum's matrix
// package instead of the hand-expanded cofactor formulas, as a
// cross-check path: build H and the diagonal of W, invert HᵀWH with
// mat.Dense.Inverse and multiply the inverse by HᵀW·dPR.
type GonumSolver struct{}

func (GonumSolver) Solve(jac [][4]float64, weight, dPR []float64) ([4]float64, error) {
	n := len(jac)

	h := mat.NewDense(n, 4, nil)
	w := mat.NewDense(n, n, nil)
	r := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for c := 0; c < 4; c++ {
			h.Set(i, c, jac[i][c])
		}
		w.Set(i, i, weight[i])
		r.Set(i, 0, dPR[i])
	}

	var wh mat.Dense
	wh.Mul(w, h)

	var ata mat.Dense
	ata.Mul(h.T(), &wh)

	var wr mat.Dense
	wr.Mul(w, r)

	var atb mat.Dense
	atb.Mul(h.T(), &wr)

	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		return [4]float64{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var delta mat.Dense
	delta.Mul(&inv, &atb)

	var out [4]float64
	for i := range out {
		out[i] = delta.At(i, 0)
	}
	return out, nil
}
