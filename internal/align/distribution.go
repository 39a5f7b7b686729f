package align

import (
	"math"
	"slices"
)

// DistributionStats summarises how assigned timestamps spread over an
// episode.
type DistributionStats struct {
	// MeanGap is the mean distance between consecutive sorted timestamps.
	MeanGap float64

	// Variance is the population variance of those gaps.
	Variance float64

	// CV is the coefficient of variation of the gaps (stddev / mean).
	CV float64

	// Clustered is set when three or more timestamps either have highly
	// uneven gaps or all fall within a fifth of the episode.
	Clustered bool
}

// Distribution computes [DistributionStats] for timestamps over an episode
// of the given duration. Fewer than two timestamps yield zero stats.
func Distribution(timestamps []float64, duration float64) DistributionStats {
	if len(timestamps) < 2 {
		return DistributionStats{}
	}
	sorted := slices.Clone(timestamps)
	slices.Sort(sorted)

	gaps := make([]float64, len(sorted)-1)
	sum := 0.0
	for i := range gaps {
		gaps[i] = sorted[i+1] - sorted[i]
		sum += gaps[i]
	}
	mean := sum / float64(len(gaps))

	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))

	var s DistributionStats
	s.MeanGap = mean
	s.Variance = variance
	if mean > 0 {
		s.CV = math.Sqrt(variance) / mean
	}
	if len(sorted) >= 3 {
		spread := sorted[len(sorted)-1] - sorted[0]
		s.Clustered = s.CV > 1 || (duration > 0 && spread < 0.2*duration)
	}
	return s
}
