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

// Package stager materialises a scoped staging directory of numbered
// symlinks (or copies) pointing at validated frames, for the external
// stacking engine to consume.
package stager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dgedgedge/darklib/internal/model"
)

// Dir is a scoped staging directory. Its lifetime is exactly one
// group's stacking attempt; Close tears it down unconditionally,
// including on cancellation and error paths (§9's scoped-resource
// design note).
type Dir struct {
	Path string
}

// New creates (or wipes, if left over from an interrupted run) the
// staging directory at path with exclusive-owner permissions, then
// populates it with one entry per accepted frame, named
// frame_<index:05d><ext>, index 0-based and dense.
func New(path string, accepted []model.FrameInfo) (*Dir, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("stager: wiping %q: %w", path, err)
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("stager: creating %q: %w", path, err)
	}
	d := &Dir{Path: path}

	for i, f := range accepted {
		name := fmt.Sprintf("frame_%05d%s", i, filepath.Ext(f.Path))
		dst := filepath.Join(path, name)
		if err := stageOne(f.Path, dst); err != nil {
			os.RemoveAll(path)
			return nil, fmt.Errorf("%w: %v", model.ErrStagingFailed, err)
		}
	}
	return d, nil
}

// stageOne symlinks src at dst, retrying with a byte copy when the
// symlink is refused (no symlink support, a cross-device EXDEV, or any
// other link error) — per §4.5, the copy is the universal fallback,
// not just for EXDEV specifically. A src that cannot be stat'ed fails
// staging outright instead of leaving a dangling link behind.
func stageOne(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.Symlink(src, dst); err != nil {
		return copyFile(src, dst)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Entries returns the staged file paths in stable frame_NNNNN order.
func (d *Dir) Entries() ([]string, error) {
	ents, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("stager: %w", err)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(d.Path, n)
	}
	return paths, nil
}

// Close removes the staging directory and everything in it. It is safe
// to call on a nil *Dir or a directory already removed.
func (d *Dir) Close() error {
	if d == nil || d.Path == "" {
		return nil
	}
	return os.RemoveAll(d.Path)
}
