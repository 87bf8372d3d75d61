package intensity

import "testing"

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestOlsRegressionRecoversExactLine(t *testing.T) {
	t.Parallel()
	x := []float64{1, 2, 3, 4, 5}
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 3.0 - 2.0*xi
	}
	reg, err := olsRegression(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approxEqual(reg.beta0, 3.0, 1e-6) {
		t.Errorf("beta0 = %v, want 3.0", reg.beta0)
	}
	if !approxEqual(reg.beta1, -2.0, 1e-6) {
		t.Errorf("beta1 = %v, want -2.0", reg.beta1)
	}
	if !approxEqual(reg.rSquared, 1.0, 1e-9) {
		t.Errorf("rSquared = %v, want 1.0", reg.rSquared)
	}
}

func TestOlsRegressionRejectsTooFewPoints(t *testing.T) {
	t.Parallel()
	_, err := olsRegression([]float64{1, 2}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected error for n < 3")
	}
}

func TestOlsRegressionRejectsMismatchedLengths(t *testing.T) {
	t.Parallel()
	_, err := olsRegression([]float64{1, 2, 3}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestOlsRegressionRejectsZeroVarianceX(t *testing.T) {
	t.Parallel()
	_, err := olsRegression([]float64{2, 2, 2}, []float64{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for zero-variance x")
	}
}

func TestOlsRegressionAllowTwoExactFit(t *testing.T) {
	t.Parallel()
	reg, err := olsRegressionAllowTwo([]float64{1, 2}, []float64{5, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approxEqual(reg.beta1, -2.0, 1e-9) {
		t.Errorf("beta1 = %v, want -2.0", reg.beta1)
	}
	if !approxEqual(reg.beta0, 7.0, 1e-9) {
		t.Errorf("beta0 = %v, want 7.0", reg.beta0)
	}
	if reg.rSquared != 1 {
		t.Errorf("rSquared = %v, want 1", reg.rSquared)
	}
}

func TestOlsRegressionAllowTwoDelegatesToThreePlus(t *testing.T) {
	t.Parallel()
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4.1, 5.9, 8.1}
	reg, err := olsRegressionAllowTwo(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approxEqual(reg.beta1, 2.0, 0.2) {
		t.Errorf("beta1 = %v, want ~2.0", reg.beta1)
	}
}
