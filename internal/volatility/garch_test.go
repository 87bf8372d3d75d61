package volatility

import (
	"math"
	"math/rand"
	"testing"
)

func TestGarchParamsIsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    GarchParams
		want bool
	}{
		{"valid", GarchParams{Omega: 0.01, Alpha: 0.05, Beta: 0.9}, true},
		{"non-positive omega", GarchParams{Omega: 0, Alpha: 0.05, Beta: 0.9}, false},
		{"negative alpha", GarchParams{Omega: 0.01, Alpha: -0.1, Beta: 0.9}, false},
		{"non-stationary", GarchParams{Omega: 0.01, Alpha: 0.5, Beta: 0.6}, false},
	}
	for _, tt := range tests {
		if got := tt.p.IsValid(); got != tt.want {
			t.Errorf("%s: IsValid() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestArrayVarianceMatchesKnownSample(t *testing.T) {
	t.Parallel()
	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := arrayVariance(x)
	want := 4.571428571428571 // sample variance, N-1
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("arrayVariance = %v, want %v", got, want)
	}
}

func TestLogGammaMatchesKnownValues(t *testing.T) {
	t.Parallel()
	// ln(Gamma(5)) = ln(4!) = ln(24)
	got := logGamma(5)
	want := math.Log(24)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("logGamma(5) = %v, want %v", got, want)
	}
}

func TestNegLogLikelihoodRejectsInfeasibleParams(t *testing.T) {
	t.Parallel()
	returns := []float64{0.01, -0.02, 0.015, -0.005, 0.02}

	infeasible := [][]float64{
		{0, -1, 0.05, 0.9},  // omega <= 0
		{0, 0.01, -0.1, 0.9}, // alpha < 0
		{0, 0.01, 0.5, 0.6}, // alpha+beta >= 1
	}
	for _, theta := range infeasible {
		if got := negLogLikelihood(theta, returns); got != largeValue {
			t.Errorf("negLogLikelihood(%v) = %v, want sentinel %v", theta, got, largeValue)
		}
	}
}

func TestFitGarch11RecoversStationaryFit(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	returns := make([]float64, 300)
	sigma2 := 0.0001
	for i := range returns {
		sigma2 = 0.00001 + 0.1*returns[max(i-1, 0)]*returns[max(i-1, 0)] + 0.8*sigma2
		returns[i] = math.Sqrt(sigma2) * rng.NormFloat64()
	}

	params, err := FitGarch11(returns)
	if err != nil {
		t.Fatalf("FitGarch11: %v", err)
	}
	if !params.IsValid() {
		t.Fatalf("fitted params not valid: %+v", params)
	}
	if params.Persistence() >= 1 {
		t.Errorf("persistence = %v, want < 1", params.Persistence())
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestFitGarch11RejectsShortSeries(t *testing.T) {
	t.Parallel()
	if _, err := FitGarch11([]float64{0.01, 0.02}); err == nil {
		t.Error("expected error for fewer than 3 returns")
	}
}

func TestFitGarch11RejectsNonFiniteReturns(t *testing.T) {
	t.Parallel()
	if _, err := FitGarch11([]float64{0.01, math.NaN(), 0.02}); err == nil {
		t.Error("expected error for non-finite returns")
	}
}

func TestPredictOneStepVarianceFloor(t *testing.T) {
	t.Parallel()
	params := GarchParams{Mu: 0, Omega: 1e-10, Alpha: 0.05, Beta: 0.9}
	forecast, err := PredictOneStep(params, []float64{0.001, -0.001, 0.0005})
	if err != nil {
		t.Fatalf("PredictOneStep: %v", err)
	}
	if forecast.VarNext <= 0 {
		t.Errorf("var_next = %v, want positive", forecast.VarNext)
	}
}

func TestDailyFromVariance(t *testing.T) {
	t.Parallel()
	got := DailyFromVariance(0.0001, 60) // 1-minute grid
	want := math.Sqrt(0.0001 * 86400 / 60)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("DailyFromVariance = %v, want %v", got, want)
	}
}
