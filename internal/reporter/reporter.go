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

// Package reporter accumulates per-group outcomes and emits the final
// structured summary. It performs no I/O on frames themselves.
package reporter

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/dgedgedge/darklib/internal/model"
)

// UpdatedMaster records one successful rebuild.
type UpdatedMaster struct {
	Key         model.GroupKey
	Path        string
	NFramesUsed int
	NFramesTotal int
	Command     string
}

// SkippedGroup records a group the UpdatePolicy (or Validator's
// post-validation guard) decided not to rebuild.
type SkippedGroup struct {
	Key    model.GroupKey
	Reason string
	Forced bool
}

// Reporter accumulates outcomes across a whole run.
type Reporter struct {
	log zerolog.Logger

	updated  []UpdatedMaster
	skipped  []SkippedGroup
	rejected []model.RejectedFrame
	failed   int

	framesSeen int
}

// RecordGroupFailure records a group aborted by a per-group error
// (§7): staging failure, non-zero engine exit, missing output, or a
// header write failure. The prior master, if any, is left intact.
func (r *Reporter) RecordGroupFailure(key model.GroupKey, err error) {
	r.failed++
	r.log.Error().Str("camera", key.CameraID).Err(err).Msg("group aborted")
}

func New(log zerolog.Logger) *Reporter {
	return &Reporter{log: log}
}

// RecordScanned adds to the total frames-seen counter, regardless of
// outcome.
func (r *Reporter) RecordScanned(n int) { r.framesSeen += n }

// RecordUpdate records a successful rebuild.
func (r *Reporter) RecordUpdate(u UpdatedMaster) {
	r.updated = append(r.updated, u)
	r.log.Info().
		Str("camera", u.Key.CameraID).
		Str("binning", u.Key.Binning.String()).
		Int("gain", u.Key.Gain).
		Int("n_frames_used", u.NFramesUsed).
		Int("n_frames_total", u.NFramesTotal).
		Str("path", u.Path).
		Msg("master updated")
}

// RecordSkip records a group the policy decided to leave untouched.
func (r *Reporter) RecordSkip(s SkippedGroup) {
	r.skipped = append(r.skipped, s)
	if s.Reason == model.ErrInsufficientFrames.Error() {
		// Resolved per the Open Questions: logged at warning, not info.
		r.log.Warn().Str("camera", s.Key.CameraID).Str("reason", s.Reason).Msg("group skipped")
		return
	}
	r.log.Debug().Str("camera", s.Key.CameraID).Str("reason", s.Reason).Msg("group skipped")
}

// RecordRejections appends rejected frames from the Validator. Each
// entry's Key identifies the group it was validated against. Staging
// failures are recorded through RecordGroupFailure, not here.
func (r *Reporter) RecordRejections(rejections []model.RejectedFrame) {
	r.rejected = append(r.rejected, rejections...)
	for _, rf := range rejections {
		r.log.Warn().
			Str("path", rf.Frame.Path).
			Str("camera", rf.Key.CameraID).
			Str("reason", rf.Reason.String()).
			Msg("frame rejected")
	}
}

// RejectedGroup is one group's rejected frames, for the summary's
// grouped-by-group-key rejection section (§4.8).
type RejectedGroup struct {
	Key    model.GroupKey
	Frames []model.RejectedFrame
}

// Summary is the three-section structured run report.
type Summary struct {
	UpdatedMasters []UpdatedMaster
	SkippedGroups  []SkippedGroup
	RejectedFrames []model.RejectedFrame
	RejectedGroups []RejectedGroup

	FramesSeen     int
	FramesUsed     int
	FramesRejected int
	GroupFailures  int
	SuccessRate    float64
}

// groupRejections partitions a flat rejection list by GroupKey, in the
// same deterministic lexicographic order Grouper processes groups in.
func groupRejections(rejected []model.RejectedFrame) []RejectedGroup {
	byKey := make(map[model.GroupKey][]model.RejectedFrame)
	var keys []model.GroupKey
	for _, rf := range rejected {
		if _, seen := byKey[rf.Key]; !seen {
			keys = append(keys, rf.Key)
		}
		byKey[rf.Key] = append(byKey[rf.Key], rf)
	}
	sort.Slice(keys, func(i, j int) bool { return model.GroupKeyLess(keys[i], keys[j]) })

	groups := make([]RejectedGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, RejectedGroup{Key: k, Frames: byKey[k]})
	}
	return groups
}

// Finish computes and logs the final summary.
func (r *Reporter) Finish() Summary {
	used := 0
	for _, u := range r.updated {
		used += u.NFramesUsed
	}
	total := used + len(r.rejected)
	rate := 1.0
	if total > 0 {
		rate = float64(used) / float64(total)
	}

	s := Summary{
		UpdatedMasters: r.updated,
		SkippedGroups:  r.skipped,
		RejectedFrames: r.rejected,
		RejectedGroups: groupRejections(r.rejected),
		FramesSeen:     r.framesSeen,
		FramesUsed:     used,
		FramesRejected: len(r.rejected),
		GroupFailures:  r.failed,
		SuccessRate:    rate,
	}

	r.log.Info().
		Int("masters_updated", len(s.UpdatedMasters)).
		Int("groups_skipped", len(s.SkippedGroups)).
		Int("frames_seen", s.FramesSeen).
		Int("frames_used", s.FramesUsed).
		Int("frames_rejected", s.FramesRejected).
		Float64("success_rate", s.SuccessRate).
		Msg("run complete")
	return s
}
