package model

import (
	"testing"
	"time"
)

func TestQuantizeTemperatureBankersRounding(t *testing.T) {
	cases := []struct {
		c, precision, want float64
	}{
		{-10.24, 0.5, -10.0},
		{-10.26, 0.5, -10.5},
		{-10.25, 0.5, -10.0}, // exact .5 boundary at ratio -20.5 rounds to even (-20)
		{-10.75, 0.5, -11.0}, // ratio -21.5 rounds to even (-22)
		{0, 0.5, 0},
		{5.0, 0, 5.0}, // precision <= 0 passes through unquantized
	}
	for _, c := range cases {
		got := QuantizeTemperature(c.c, c.precision)
		if got != c.want {
			t.Errorf("QuantizeTemperature(%v, %v) = %v, want %v", c.c, c.precision, got, c.want)
		}
	}
}

func TestKeyOfSharesKeyAcrossEquivalentFrames(t *testing.T) {
	f1 := FrameInfo{CameraID: "cam1", Binning: Binning{1, 1}, Gain: 100, ExposureS: 300, TemperatureC: -10.1}
	f2 := FrameInfo{CameraID: "cam1", Binning: Binning{1, 1}, Gain: 100, ExposureS: 300, TemperatureC: -10.24}
	k1 := KeyOf(f1, 0.5)
	k2 := KeyOf(f2, 0.5)
	if k1 != k2 {
		t.Fatalf("expected equal keys for frames within quantization bucket, got %+v vs %+v", k1, k2)
	}
}

func TestFileSafeNameSanitizesCameraID(t *testing.T) {
	k := GroupKey{CameraID: "ZWO ASI294MM Pro!", Binning: Binning{1, 1}, Gain: 120, ExposureS: 300, TemperatureCQ: -10, IsCFA: false}
	name := k.FileSafeName()
	if name == "" {
		t.Fatal("expected non-empty name")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
		default:
			t.Fatalf("FileSafeName produced unsafe character %q in %q", r, name)
		}
	}
}

func TestGroupLatest(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	g := Group{Frames: []FrameInfo{{AcquiredAt: t0}, {AcquiredAt: t1}}}
	if !g.Latest().Equal(t1) {
		t.Fatalf("Latest() = %v, want %v", g.Latest(), t1)
	}
}

func TestRejectReasonString(t *testing.T) {
	if RejectNone.String() != "None" {
		t.Errorf("RejectNone.String() = %q", RejectNone.String())
	}
	if RejectMedianCeiling.String() != "MedianCeiling" {
		t.Errorf("RejectMedianCeiling.String() = %q", RejectMedianCeiling.String())
	}
}
