package model

import "errors"

// Per-group failures (§7). Each aborts the group under processing and
// leaves any prior master intact.
var (
	ErrInsufficientFrames = errors.New("insufficient valid frames to stack")
	ErrStagingFailed      = errors.New("staging directory could not be populated")
	ErrStackerNonZero     = errors.New("stacking engine exited with non-zero status")
	ErrOutputMissing      = errors.New("stacking engine produced no output at the expected path")
	ErrHeaderWriteFailed  = errors.New("failed to write master header")
)

// Fatal failures (§7). These abort the run before any group is processed.
var (
	ErrInputRootMissing    = errors.New("input root does not exist")
	ErrLibraryNotWritable  = errors.New("library root is not writable")
	ErrEngineBinaryMissing = errors.New("stacking engine binary not found")
)
