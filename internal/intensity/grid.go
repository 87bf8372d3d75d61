// Package intensity implements the bot's κ (trading-intensity) estimators:
// simple trade counting, virtual quoting with fill-simulation, and
// depth-based intensity from queue position and trade-walk fill times.
//
// The regression and fill-simulation shapes are ported from the reference
// implementation's k_estimator.rs; OLS point estimates are computed with
// gonum/stat, with standard errors and R² derived the same way the
// original does.
package intensity

// GenerateDeltaGrid produces 18 equally spaced points from tickSize to
// 0.01*typicalMid, per spec §4.4. The same grid is shared by virtual
// quoting and depth-based estimation so their outputs stay comparable.
func GenerateDeltaGrid(tickSize, typicalMid float64) []float64 {
	const numPoints = 18

	minDelta := tickSize
	maxDelta := typicalMid * 0.01
	if maxDelta < minDelta {
		maxDelta = minDelta
	}

	grid := make([]float64, numPoints)
	for i := 0; i < numPoints; i++ {
		frac := float64(i) / float64(numPoints-1)
		grid[i] = minDelta + (maxDelta-minDelta)*frac
	}
	return grid
}
