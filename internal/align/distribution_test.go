package align_test

import (
	"math"
	"testing"

	"github.com/MrWong99/podmark/internal/align"
)

func TestDistribution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ts        []float64
		duration  float64
		meanGap   float64
		clustered bool
	}{
		{"none", nil, 600, 0, false},
		{"single", []float64{100}, 600, 0, false},
		{"even", []float64{500, 100, 300}, 600, 200, false},
		{"bunched", []float64{100, 110, 120, 130}, 600, 10, true},
		{"uneven", []float64{0, 1, 2, 3, 590}, 600, 147.5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := align.Distribution(tc.ts, tc.duration)
			if math.Abs(got.MeanGap-tc.meanGap) > 1e-9 {
				t.Errorf("MeanGap = %v, want %v", got.MeanGap, tc.meanGap)
			}
			if got.Clustered != tc.clustered {
				t.Errorf("Clustered = %v, want %v (cv=%v)", got.Clustered, tc.clustered, got.CV)
			}
		})
	}
}

func TestDistribution_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	ts := []float64{300, 100, 200}
	align.Distribution(ts, 600)
	if ts[0] != 300 || ts[1] != 100 || ts[2] != 200 {
		t.Errorf("input reordered: %v", ts)
	}
}
