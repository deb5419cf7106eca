package stats

import (
	"math"
	"testing"
)

func TestMeanStdDevConstantData(t *testing.T) {
	data := []float32{5, 5, 5, 5}
	mean, std := MeanStdDev(data)
	if mean != 5 {
		t.Errorf("mean = %v, want 5", mean)
	}
	if std != 0 {
		t.Errorf("std = %v, want 0", std)
	}
}

func TestMeanStdDevKnownValues(t *testing.T) {
	data := []float32{2, 4, 4, 4, 5, 5, 7, 9}
	mean, std := MeanStdDev(data)
	if math.Abs(mean-5) > 1e-6 {
		t.Errorf("mean = %v, want 5", mean)
	}
	// gonum's MeanVariance returns the unbiased (n-1) sample variance.
	wantStd := math.Sqrt(32.0 / 7.0)
	if math.Abs(std-wantStd) > 1e-6 {
		t.Errorf("std = %v, want %v", std, wantStd)
	}
}

func TestMeanStdDevEmpty(t *testing.T) {
	mean, std := MeanStdDev(nil)
	if mean != 0 || std != 0 {
		t.Errorf("expected zero values for empty input, got mean=%v std=%v", mean, std)
	}
}
