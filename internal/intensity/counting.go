package intensity

import "fmt"

// EstimateCounting computes κ = count(TRADE-type trades) / window_duration_seconds.
// Units: trades/sec, per spec §4.4(a).
func EstimateCounting(tradeCount int, windowSeconds float64) (float64, error) {
	if windowSeconds <= 0 {
		return 0, fmt.Errorf("window duration must be positive, got %v seconds", windowSeconds)
	}
	return float64(tradeCount) / windowSeconds, nil
}
