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

// Package logging is a thin zerolog wrapper, injected rather than a
// fixed package-global writer, since a global sink is at odds with a
// stateless, testable core — but keeps a familiar call-site idiom: one
// line per notable event, carrying the frame or group it concerns as a
// field.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a console-formatted logger, suitable for cmd/darklib's
// interactive output.
func New(w io.Writer) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).With().Timestamp().Logger()
}

// NewJSON returns a JSON-formatted logger, suitable for library use and
// tests that assert on structured fields.
func NewJSON(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests that don't
// care about log output.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// Default is a console logger writing to stderr, used where no logger
// has been explicitly wired in (e.g. package-level helpers called from
// tests that don't construct a full pipeline).
var Default = New(os.Stderr)
