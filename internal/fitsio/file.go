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

package fitsio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dgedgedge/darklib/internal/frameheader"
)

// ErrNotFITS is returned when a file's header doesn't parse into a
// minimally valid FITS header: no END card within the first 64 blocks,
// or no BITPIX card. SIMPLE is not checked.
var ErrNotFITS = errors.New("fitsio: not a recognized FITS-subset file")

// Reader implements frameheader.ReadWriter over the on-disk format
// described in this package's doc comment.
type Reader struct{}

// New returns a Reader. It holds no state; every method reopens the
// file it is given, since the pipeline only ever touches one frame's
// header at a time.
func New() *Reader { return &Reader{} }

var _ frameheader.ReadWriter = (*Reader)(nil)

func readHeaderBlocks(f *os.File) (*header, int64, error) {
	var all []byte
	buf := make([]byte, blockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			all = append(all, buf[:n]...)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("fitsio: reading header: %w", err)
		}
		if containsEnd(all) {
			break
		}
		if len(all) > 64*blockSize {
			return nil, 0, ErrNotFITS
		}
	}
	h := parseHeaderBlock(all)
	if _, ok := h.getInt(kwBitpix); !ok {
		return nil, 0, ErrNotFITS
	}
	headerBytes := int64(len(all))
	if rem := headerBytes % blockSize; rem != 0 {
		headerBytes += blockSize - rem
	}
	return h, headerBytes, nil
}

func containsEnd(data []byte) bool {
	for off := 0; off+headerLineSize <= len(data); off += headerLineSize {
		card := string(data[off : off+headerLineSize])
		if trimmedEquals(card, kwEnd) {
			return true
		}
	}
	return false
}

func trimmedEquals(card, kw string) bool {
	i := 0
	for i < len(card) && card[i] == ' ' {
		i++
	}
	return i+len(kw) <= len(card) && card[i:i+len(kw)] == kw
}

// ReadFrameHeader reads the acquisition metadata cards from path.
func (r *Reader) ReadFrameHeader(path string) (frameheader.FrameFields, error) {
	f, err := os.Open(path)
	if err != nil {
		return frameheader.FrameFields{}, fmt.Errorf("fitsio: %w", err)
	}
	defer f.Close()

	h, _, err := readHeaderBlocks(f)
	if err != nil {
		return frameheader.FrameFields{}, err
	}

	var ff frameheader.FrameFields
	if s, ok := h.getString(kwDateObs); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			ff.AcquiredAt = t
		}
	}
	ff.CameraID, _ = h.getString(kwCamera)
	if v, ok := h.getInt(kwXBinning); ok {
		ff.BinX = v
	}
	if v, ok := h.getInt(kwYBinning); ok {
		ff.BinY = v
	}
	if v, ok := h.getInt(kwGain); ok {
		ff.Gain = v
	}
	if v, ok := h.getFloat(kwExposure); ok {
		ff.ExposureS = v
	}
	if v, ok := h.getFloat(kwCCDTemp); ok {
		ff.TemperatureC = v
	}
	if _, ok := h.getString(kwBayerPat); ok {
		ff.IsCFA = true
	}
	ff.KindHint, _ = h.getString(kwImageType)
	return ff, nil
}

// ReadMasterHeader reads the provenance cards from an existing master's
// header. ok is false, with a nil error, when path does not exist.
func (r *Reader) ReadMasterHeader(path string) (frameheader.MasterFields, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return frameheader.MasterFields{}, false, nil
	}
	if err != nil {
		return frameheader.MasterFields{}, false, fmt.Errorf("fitsio: %w", err)
	}
	defer f.Close()

	h, _, err := readHeaderBlocks(f)
	if err != nil {
		return frameheader.MasterFields{}, false, err
	}

	var mf frameheader.MasterFields
	mf.CameraID, _ = h.getString(kwCamera)
	mf.BinX, _ = h.getInt(kwXBinning)
	mf.BinY, _ = h.getInt(kwYBinning)
	mf.Gain, _ = h.getInt(kwGain)
	mf.ExposureS, _ = h.getFloat(kwExposure)
	mf.TemperatureCQ, _ = h.getFloat(kwCCDTemp)
	_, mf.IsCFA = h.getString(kwBayerPat)
	if s, ok := h.getString(kwDateObs); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			mf.AcquiredAt = t
		}
	}
	// NFRAMES missing is treated as 0, per the policy's documented
	// backward-compatibility rule, not an error.
	mf.NFramesUsed, _ = h.getInt(kwNFrames)
	mf.StackSignature, _ = h.getString(kwStackSig)
	return mf, true, nil
}

// WriteMasterFields rewrites the header block of an existing FITS file
// at path with the given provenance fields, leaving the pixel data
// unit byte-for-byte untouched. Called exactly once per master, right
// after the external stacking engine has produced it.
func (r *Reader) WriteMasterFields(path string, fields frameheader.MasterFields) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("fitsio: %w", err)
	}
	defer f.Close()

	h, oldHeaderBytes, err := readHeaderBlocks(f)
	if err != nil {
		return err
	}

	h.setString(kwCamera, fields.CameraID)
	h.setInt(kwXBinning, fields.BinX)
	h.setInt(kwYBinning, fields.BinY)
	h.setInt(kwGain, fields.Gain)
	h.setFloat(kwExposure, fields.ExposureS)
	h.setFloat(kwCCDTemp, fields.TemperatureCQ)
	if fields.IsCFA {
		h.setString(kwBayerPat, "RGGB")
	}
	h.setString(kwDateObs, fields.AcquiredAt.UTC().Format(time.RFC3339))
	h.setInt(kwNFrames, fields.NFramesUsed)
	h.setString(kwStackSig, fields.StackSignature)

	newHeaderBytes := h.encode()

	if int64(len(newHeaderBytes)) == oldHeaderBytes {
		if _, err := f.WriteAt(newHeaderBytes, 0); err != nil {
			return fmt.Errorf("fitsio: writing header: %w", err)
		}
		return nil
	}

	// Header grew or shrank by a block: rewrite the whole file via a
	// temp file and rename, so a crash mid-write never leaves a
	// truncated master in place.
	return rewriteWithNewHeader(path, f, oldHeaderBytes, newHeaderBytes)
}

func rewriteWithNewHeader(path string, f *os.File, oldHeaderBytes int64, newHeader []byte) error {
	if _, err := f.Seek(oldHeaderBytes, 0); err != nil {
		return fmt.Errorf("fitsio: %w", err)
	}
	tmp, err := os.CreateTemp(dirOf(path), ".fitsio-*")
	if err != nil {
		return fmt.Errorf("fitsio: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(newHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("fitsio: %w", err)
	}
	buf := make([]byte, 1<<20)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return fmt.Errorf("fitsio: %w", werr)
			}
		}
		if rerr != nil {
			break
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fitsio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fitsio: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// ReadPixels reads the float32 pixel data unit of the FITS-subset file
// at path into dst, reusing dst's backing array when it already has
// the right length (dst may be drawn from a pool). BITPIX must be -32.
func ReadPixels(path string, dst []float32) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fitsio: %w", err)
	}
	defer f.Close()

	h, headerBytes, err := readHeaderBlocks(f)
	if err != nil {
		return nil, err
	}
	bitpix, _ := h.getInt(kwBitpix)
	if bitpix != -32 {
		return nil, fmt.Errorf("fitsio: unsupported BITPIX %d (only -32 float32 is supported)", bitpix)
	}
	n1, _ := h.getInt(kwNaxis1)
	n2, _ := h.getInt(kwNaxis2)
	n := n1 * n2
	if n <= 0 {
		return nil, fmt.Errorf("fitsio: invalid NAXIS1/NAXIS2 (%d,%d)", n1, n2)
	}

	if cap(dst) >= n {
		dst = dst[:n]
	} else {
		dst = make([]float32, n)
	}

	if _, err := f.Seek(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("fitsio: %w", err)
	}
	raw := make([]byte, 4*n)
	if _, err := readFull(f, raw); err != nil {
		return nil, fmt.Errorf("fitsio: reading pixel data: %w", err)
	}
	for i := 0; i < n; i++ {
		bits := binary.BigEndian.Uint32(raw[4*i : 4*i+4])
		dst[i] = math.Float32frombits(bits)
	}
	return dst, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
