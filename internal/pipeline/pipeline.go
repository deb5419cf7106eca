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

// Package pipeline orchestrates the eight stages (Scanner through
// Reporter) into one run, sequentially per group, observing a
// cancellation token only between groups.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/frameheader"
	"github.com/dgedgedge/darklib/internal/grouper"
	"github.com/dgedgedge/darklib/internal/headerwriter"
	"github.com/dgedgedge/darklib/internal/model"
	"github.com/dgedgedge/darklib/internal/reporter"
	"github.com/dgedgedge/darklib/internal/scanner"
	"github.com/dgedgedge/darklib/internal/stackrunner"
	"github.com/dgedgedge/darklib/internal/stager"
	"github.com/dgedgedge/darklib/internal/updatepolicy"
	"github.com/dgedgedge/darklib/internal/validator"
)

// Pipeline wires every stage's concrete implementation together.
type Pipeline struct {
	params   config.Params
	headers  frameheader.ReadWriter
	readPixels validator.PixelReader
	log      zerolog.Logger
}

func New(params config.Params, headers frameheader.ReadWriter, readPixels validator.PixelReader, log zerolog.Logger) *Pipeline {
	return &Pipeline{params: params, headers: headers, readPixels: readPixels, log: log}
}

// Run executes one full pass: scan, group, and process every group in
// deterministic lexicographic-by-GroupKey order, until ctx is canceled
// or every group has been processed. Returns the final Reporter summary
// and an error only for fatal failures (§7); per-group failures are
// recorded in the summary, never returned here.
func (p *Pipeline) Run(ctx context.Context) (reporter.Summary, error) {
	if err := os.MkdirAll(p.params.LibraryRoot, 0755); err != nil {
		return reporter.Summary{}, fmt.Errorf("%w: %v", model.ErrLibraryNotWritable, err)
	}

	if !p.params.Engine.DryRun {
		if err := stackrunner.CheckEngineBinary(p.params.Engine); err != nil {
			return reporter.Summary{}, err
		}
	}

	sc := scanner.New(p.headers, p.params, p.log)
	frames, err := sc.Scan(p.params)
	if err != nil {
		return reporter.Summary{}, err
	}

	rep := reporter.New(p.log)
	rep.RecordScanned(len(frames))

	groups := grouper.Group(frames, p.params.TemperaturePrecision)
	signature := headerwriter.Signature(p.params.Stack)

	for _, g := range groups {
		select {
		case <-ctx.Done():
			p.log.Warn().Msg("cancellation requested; skipping remaining groups")
			return rep.Finish(), ctx.Err()
		default:
		}

		if err := p.processGroup(ctx, g, signature, rep); err != nil {
			rep.RecordGroupFailure(g.Key, err)
		}
	}

	return rep.Finish(), nil
}

func (p *Pipeline) masterPath(key model.GroupKey) string {
	return filepath.Join(p.params.LibraryRoot, key.FileSafeName()+".fits")
}

func (p *Pipeline) processGroup(ctx context.Context, g model.Group, signature string, rep *reporter.Reporter) error {
	masterPath := p.masterPath(g.Key)
	masterFields, exists, err := p.headers.ReadMasterHeader(masterPath)
	if err != nil {
		return err
	}

	decision := updatepolicy.Decide(g, masterFields, exists, signature, p.params.MinDarksThreshold, p.params.Force)
	if !decision.Build {
		rep.RecordSkip(reporter.SkippedGroup{Key: g.Key, Reason: decision.SkipReason, Forced: decision.Forced})
		return nil
	}

	v := validator.New(p.params.Validator, p.readPixels)
	defer v.Close()
	accepted, rejected := v.Validate(g.Frames)
	if len(rejected) > 0 {
		for i := range rejected {
			rejected[i].Key = g.Key
		}
		rep.RecordRejections(rejected)
	}

	if len(accepted) < 2 {
		rep.RecordSkip(reporter.SkippedGroup{Key: g.Key, Reason: model.ErrInsufficientFrames.Error()})
		return nil
	}

	stagingDir := filepath.Join(p.params.StagingRoot, g.Key.FileSafeName())
	dir, err := stager.New(stagingDir, accepted)
	if err != nil {
		return err
	}
	defer dir.Close()

	// The engine's output and HeaderWriter's provenance stamp both land
	// at tempPath first; only after both succeed is tempPath renamed
	// onto masterPath, so a crash mid-group never leaves a readable-
	// but-incomplete master at the final, externally-visible path (§7).
	tempPath := masterPath + ".tmp"
	defer os.Remove(tempPath)

	runner := stackrunner.New(p.params.Engine, p.log)
	command, err := runner.Run(ctx, dir.Path, len(accepted), p.params.Stack, tempPath)
	if err != nil {
		return err
	}

	if !p.params.Engine.DryRun {
		if err := headerwriter.Write(p.headers, tempPath, g.Key, accepted, p.params.Stack); err != nil {
			return err
		}
		if err := os.Rename(tempPath, masterPath); err != nil {
			return fmt.Errorf("pipeline: finalizing master: %w", err)
		}
	}

	rep.RecordUpdate(reporter.UpdatedMaster{
		Key:          g.Key,
		Path:         masterPath,
		NFramesUsed:  len(accepted),
		NFramesTotal: len(g.Frames),
		Command:      command,
	})
	return nil
}
