// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package stackrunner generates the stacking script and invokes the
// external stacking engine, in one of three invocation modes that
// differ only in argv prefix, using a single invocation contract
// covering all three deployment modes instead of one adapter per tool,
// in the style of a ToolManager/DSSStacker exec.Command wrapper.
package stackrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/model"
)

// inFlight is a package-level, capacity-1 semaphore: at most one engine
// invocation system-wide (§4.6), implemented as a channel rather than a
// mutex so the cancellation token can still be observed while waiting
// for the slot.
var inFlight = make(chan struct{}, 1)

const intermediateOutputName = "stack_output.fits"

// Runner invokes the external stacking engine.
type Runner struct {
	engine config.EngineConfig
	log    zerolog.Logger
}

func New(engine config.EngineConfig, log zerolog.Logger) *Runner {
	return &Runner{engine: engine, log: log}
}

// CheckEngineBinary verifies the configured engine is actually
// invocable before any group is processed (§7): a missing binary is a
// fatal, run-aborting failure, not a per-group one discovered deep
// inside the first group's Run call. Native and Containerised modes
// search PATH; Bundle mode stats the bundle path directly.
func CheckEngineBinary(engine config.EngineConfig) error {
	switch engine.Mode {
	case config.Bundle:
		if _, err := os.Stat(engine.BundlePath); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrEngineBinaryMissing, engine.BundlePath, err)
		}
		return nil
	case config.Containerised:
		if _, err := exec.LookPath(engine.ContainerRuntime); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrEngineBinaryMissing, engine.ContainerRuntime, err)
		}
		return nil
	default:
		if _, err := exec.LookPath(engine.NativeEngine); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrEngineBinaryMissing, engine.NativeEngine, err)
		}
		return nil
	}
}

// Run generates the stacking script for the staged sequence, spawns
// the engine (unless dry-run), and on success renames the intermediate
// output to outputPath. outputPath need not be the master's final,
// externally-visible location: callers that must honor §7's atomicity
// guarantee pass a temporary path here and only rename to the final
// master path after HeaderWriter has stamped it. Returns the exact
// command string used, always — even in dry-run, where nothing is
// spawned.
func (r *Runner) Run(ctx context.Context, stagingDir string, nFrames int, params config.StackParams, outputPath string) (command string, err error) {
	scriptPath, err := writeScript(stagingDir, nFrames, params)
	if err != nil {
		return "", fmt.Errorf("stackrunner: %w", err)
	}
	defer os.Remove(scriptPath)

	argv := r.argv(scriptPath)
	command = strings.Join(argv, " ")

	if r.engine.DryRun {
		r.log.Info().Str("command", command).Msg("dry-run: stacking engine not invoked")
		return command, nil
	}

	select {
	case inFlight <- struct{}{}:
	case <-ctx.Done():
		return command, ctx.Err()
	}
	defer func() { <-inFlight }()

	r.log.Info().Str("command", command).Msg("invoking stacking engine")
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = stagingDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return command, fmt.Errorf("%w: %v", model.ErrStackerNonZero, err)
	}

	intermediate := filepath.Join(stagingDir, intermediateOutputName)
	if _, err := os.Stat(intermediate); err != nil {
		return command, fmt.Errorf("%w: %s", model.ErrOutputMissing, intermediate)
	}
	if err := atomicMove(intermediate, outputPath); err != nil {
		return command, fmt.Errorf("stackrunner: %w", err)
	}
	return command, nil
}

// argv renders the argv prefix for the configured invocation mode
// (§6), appending the shared "-s <script>" suffix every mode shares.
func (r *Runner) argv(scriptPath string) []string {
	switch r.engine.Mode {
	case config.Containerised:
		return []string{r.engine.ContainerRuntime, "run", "--command=" + r.engine.NativeEngine, r.engine.PackageID, "-s", scriptPath}
	case config.Bundle:
		return []string{r.engine.BundlePath, "-s", scriptPath}
	default:
		return []string{r.engine.NativeEngine, "-s", scriptPath}
	}
}

// atomicMove renames src to dst, falling back to copy-then-fsync-then-
// unlink when they're on different filesystems (§4.6 step 5).
func atomicMove(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
