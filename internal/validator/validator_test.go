package validator

import (
	"fmt"
	"testing"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/model"
)

// fakePixels returns a PixelReader backed by a fixed map of path to
// pixel values, so tests can drive scoreOne without real FITS files.
func fakePixels(byPath map[string][]float32) PixelReader {
	return func(path string, dst []float32) ([]float32, error) {
		data, ok := byPath[path]
		if !ok {
			return nil, fmt.Errorf("no fixture for %q", path)
		}
		if cap(dst) < len(data) {
			dst = make([]float32, len(data))
		}
		dst = dst[:len(data)]
		copy(dst, data)
		return dst, nil
	}
}

func flatFrame(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestValidateAcceptsCleanFrame(t *testing.T) {
	data := flatFrame(100, 1000)
	v := New(config.DefaultValidatorThresholds(), fakePixels(map[string][]float32{"a": data}))
	defer v.Close()

	accepted, rejected := v.Validate([]model.FrameInfo{{Path: "a"}})
	if len(rejected) != 0 {
		t.Fatalf("expected no rejections, got %+v", rejected)
	}
	if len(accepted) != 1 {
		t.Fatalf("expected 1 accepted frame, got %d", len(accepted))
	}
	if accepted[0].ImageStats == nil {
		t.Fatal("expected ImageStats to be populated")
	}
}

func TestValidateRejectsMedianCeiling(t *testing.T) {
	data := flatFrame(500, 1000) // above the default 200 ceiling
	thresholds := config.DefaultValidatorThresholds()
	v := New(thresholds, fakePixels(map[string][]float32{"a": data}))
	defer v.Close()

	accepted, rejected := v.Validate([]model.FrameInfo{{Path: "a"}})
	if len(accepted) != 0 {
		t.Fatalf("expected 0 accepted, got %d", len(accepted))
	}
	if len(rejected) != 1 || rejected[0].Reason != model.RejectMedianCeiling {
		t.Fatalf("expected MedianCeiling rejection, got %+v", rejected)
	}
}

func TestValidateRejectsUnreadablePixels(t *testing.T) {
	v := New(config.DefaultValidatorThresholds(), fakePixels(map[string][]float32{}))
	defer v.Close()

	accepted, rejected := v.Validate([]model.FrameInfo{{Path: "missing"}})
	if len(accepted) != 0 {
		t.Fatalf("expected 0 accepted, got %d", len(accepted))
	}
	if len(rejected) != 1 || rejected[0].Reason != model.RejectUnreadablePixels {
		t.Fatalf("expected UnreadablePixels rejection, got %+v", rejected)
	}
}

func TestValidateAcceptedPlusRejectedEqualsInput(t *testing.T) {
	good := flatFrame(100, 500)
	bad := flatFrame(500, 500)
	v := New(config.DefaultValidatorThresholds(), fakePixels(map[string][]float32{
		"good": good, "bad": bad,
	}))
	defer v.Close()

	frames := []model.FrameInfo{{Path: "good"}, {Path: "bad"}, {Path: "missing"}}
	accepted, rejected := v.Validate(frames)
	if len(accepted)+len(rejected) != len(frames) {
		t.Fatalf("accepted(%d)+rejected(%d) != input(%d)", len(accepted), len(rejected), len(frames))
	}
}

func TestValidateRejectsInvalidMedian(t *testing.T) {
	data := flatFrame(0, 100)
	v := New(config.DefaultValidatorThresholds(), fakePixels(map[string][]float32{"a": data}))
	defer v.Close()

	_, rejected := v.Validate([]model.FrameInfo{{Path: "a"}})
	if len(rejected) != 1 || rejected[0].Reason != model.RejectInvalidMedian {
		t.Fatalf("expected InvalidMedian rejection for zero-median frame, got %+v", rejected)
	}
}
