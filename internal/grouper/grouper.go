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

// Package grouper partitions FrameInfo records into Groups by
// acquisition-equivalence key.
package grouper

import (
	"sort"

	"github.com/dgedgedge/darklib/internal/model"
)

// Group partitions frames into model.Group values, one per distinct
// model.GroupKey (computed at the given temperature precision), with
// frames sorted by AcquiredAt descending and path as a tie-break.
// Invariants G1 (shared key) and G2 (non-empty) hold by construction.
func Group(frames []model.FrameInfo, tprec float64) []model.Group {
	byKey := make(map[model.GroupKey][]model.FrameInfo)
	var order []model.GroupKey
	for _, f := range frames {
		key := model.KeyOf(f, tprec)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], f)
	}

	groups := make([]model.Group, 0, len(order))
	for _, key := range order {
		fs := byKey[key]
		sort.SliceStable(fs, func(i, j int) bool {
			ti, tj := fs[i].AcquiredAt, fs[j].AcquiredAt
			if ti.Equal(tj) {
				return fs[i].Path < fs[j].Path
			}
			return ti.After(tj)
		})
		groups = append(groups, model.Group{Key: key, Frames: fs})
	}

	// Deterministic processing order (§5): lexicographic by GroupKey.
	sort.Slice(groups, func(i, j int) bool { return model.GroupKeyLess(groups[i].Key, groups[j].Key) })
	return groups
}
