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

// Package updatepolicy decides, for a group and its (possibly absent)
// existing master, whether a rebuild is warranted.
package updatepolicy

import (
	"github.com/dgedgedge/darklib/internal/frameheader"
	"github.com/dgedgedge/darklib/internal/model"
)

const (
	reasonDateNotNewer               = "date-not-newer"
	reasonDateNewerInsufficientCount = "date-newer-but-insufficient-frames"
)

// Decide applies the six ordered rules from §4.3, first match wins.
// currentSignature is the stack_signature this run would produce for
// the group with the currently configured stacking parameters.
func Decide(g model.Group, master frameheader.MasterFields, masterExists bool, currentSignature string, minDarksThreshold int, force bool) model.Decision {
	if force {
		return model.Decision{Build: true, Forced: true}
	}
	if !masterExists {
		return model.Decision{Build: true}
	}
	if master.StackSignature != currentSignature {
		return model.Decision{Build: true}
	}

	latest := g.Latest()
	if !latest.After(master.AcquiredAt) {
		return model.Decision{Build: false, SkipReason: reasonDateNotNewer}
	}

	// A master missing NFramesUsed is treated as 0 (backward
	// compatibility); frameheader.Reader implementations already
	// guarantee this when the header lacks the field.
	if len(g.Frames) >= minDarksThreshold || len(g.Frames) > master.NFramesUsed {
		return model.Decision{Build: true}
	}
	return model.Decision{Build: false, SkipReason: reasonDateNewerInsufficientCount}
}
