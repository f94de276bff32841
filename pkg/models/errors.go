package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the compression core. Callers match with errors.Is;
// layers add context with fmt.Errorf("...: %w", err).
var (
	// ErrInvalidAsset means the source could not be read or parsed at all.
	ErrInvalidAsset = errors.New("invalid or unreadable source asset")

	// ErrNoVideoTrack means the source has no video stream to work with.
	ErrNoVideoTrack = errors.New("source has no video track")

	// ErrNoCompressionSettings is a caller contract violation: no usable
	// mode (preset or target size) was supplied.
	ErrNoCompressionSettings = errors.New("no compression settings provided")

	// ErrTargetSizeUnachievable means the byte budget cannot fit a usable
	// video bitrate for this duration.
	ErrTargetSizeUnachievable = errors.New("target size unachievable")

	// ErrSetupFailed means a reader or writer could not start.
	ErrSetupFailed = errors.New("compression setup failed")

	// ErrExportFailed wraps a mid-pipeline failure from the encode primitive.
	ErrExportFailed = errors.New("export failed")

	// ErrCancelled is the caller-initiated terminal outcome. Not treated as
	// a failure for reporting purposes.
	ErrCancelled = errors.New("compression cancelled")
)

func settingsError(msg string) error {
	return fmt.Errorf("%w: %s", ErrNoCompressionSettings, msg)
}

// UnachievableTarget builds the user-facing error for an infeasible target,
// pointing at a larger size instead of exposing the bitrate arithmetic.
func UnachievableTarget(targetMB, suggestedMB float64) error {
	return fmt.Errorf("%w: %.1f MB is too small for this clip, try at least %.0f MB",
		ErrTargetSizeUnachievable, targetMB, suggestedMB)
}
