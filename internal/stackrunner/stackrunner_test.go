package stackrunner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/logging"
	"github.com/dgedgedge/darklib/internal/model"
)

func TestArgvNativeMode(t *testing.T) {
	r := New(config.EngineConfig{Mode: config.Native, NativeEngine: "siril"}, logging.Nop())
	argv := r.argv("/tmp/script.ssf")
	want := []string{"siril", "-s", "/tmp/script.ssf"}
	if !equalSlices(argv, want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
}

func TestArgvContainerisedMode(t *testing.T) {
	r := New(config.EngineConfig{
		Mode:             config.Containerised,
		NativeEngine:     "siril",
		ContainerRuntime: "flatpak",
		PackageID:        "org.siril.Siril",
	}, logging.Nop())
	argv := r.argv("/tmp/script.ssf")
	want := []string{"flatpak", "run", "--command=siril", "org.siril.Siril", "-s", "/tmp/script.ssf"}
	if !equalSlices(argv, want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
}

func TestArgvBundleMode(t *testing.T) {
	r := New(config.EngineConfig{Mode: config.Bundle, BundlePath: "/opt/siril-bundle/run.sh"}, logging.Nop())
	argv := r.argv("/tmp/script.ssf")
	want := []string{"/opt/siril-bundle/run.sh", "-s", "/tmp/script.ssf"}
	if !equalSlices(argv, want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
}

func TestRunDryRunNeverSpawnsAndReturnsStableCommand(t *testing.T) {
	stagingDir := t.TempDir()
	r := New(config.EngineConfig{Mode: config.Native, NativeEngine: "siril", DryRun: true}, logging.Nop())

	outputPath := filepath.Join(t.TempDir(), "master.fits")
	command, err := r.Run(context.Background(), stagingDir, 5, config.DefaultStackParams(), outputPath)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(command, "siril -s ") {
		t.Fatalf("unexpected dry-run command: %q", command)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatalf("dry-run must not produce output, stat err = %v", statErr)
	}

	// A second dry run with identical params must render an identical
	// command modulo the temp script path, and never touch inFlight.
	command2, err := r.Run(context.Background(), stagingDir, 5, config.DefaultStackParams(), outputPath)
	if err != nil {
		t.Fatalf("Run (2nd): %v", err)
	}
	f1, f2 := strings.Split(command, " "), strings.Split(command2, " ")
	if len(f1) != len(f2) || strings.Join(f1[:len(f1)-1], " ") != strings.Join(f2[:len(f2)-1], " ") {
		t.Fatalf("expected identical command modulo script path across dry runs: %q vs %q", command, command2)
	}
	if len(inFlight) != 0 {
		t.Fatalf("dry run must not hold the engine slot, inFlight len = %d", len(inFlight))
	}
}

func TestCheckEngineBinaryNativeMissing(t *testing.T) {
	err := CheckEngineBinary(config.EngineConfig{Mode: config.Native, NativeEngine: "darklib-engine-that-does-not-exist"})
	if !errors.Is(err, model.ErrEngineBinaryMissing) {
		t.Fatalf("expected ErrEngineBinaryMissing, got %v", err)
	}
}

func TestCheckEngineBinaryNativeFound(t *testing.T) {
	if err := CheckEngineBinary(config.EngineConfig{Mode: config.Native, NativeEngine: "sh"}); err != nil {
		t.Fatalf("expected sh to resolve on PATH, got %v", err)
	}
}

func TestCheckEngineBinaryBundleStatsPath(t *testing.T) {
	bundle := filepath.Join(t.TempDir(), "run.sh")
	if err := os.WriteFile(bundle, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := CheckEngineBinary(config.EngineConfig{Mode: config.Bundle, BundlePath: bundle}); err != nil {
		t.Fatalf("expected existing bundle path to pass, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.sh")
	err := CheckEngineBinary(config.EngineConfig{Mode: config.Bundle, BundlePath: missing})
	if !errors.Is(err, model.ErrEngineBinaryMissing) {
		t.Fatalf("expected ErrEngineBinaryMissing for missing bundle, got %v", err)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
