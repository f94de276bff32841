// Package pipeline implements the synchronized two-track transcode session:
// per-track pull loops with writer backpressure, a countdown completion
// barrier, and monotonic progress reporting.
package pipeline

import (
	"context"
	"math"
	"time"

	"vidcompact/pkg/models"
)

// MediaType identifies which track a pipeline carries.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// Sample is one unit of decoded media pulled from a reader and handed to a
// writer: a raw frame for video, a PCM block for audio.
type Sample struct {
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
}

// SampleReader emits decoded samples in presentation order. Next returns
// io.EOF once the track is drained.
type SampleReader interface {
	Start(ctx context.Context) error
	Next(ctx context.Context) (*Sample, error)
	Close() error
}

// SampleWriter re-encodes appended samples. Ready yields one token per
// sample the encoder can accept, which is what applies backpressure: a loop
// only pulls a new sample once the downstream encoder signals capacity.
// Finish marks the input complete and flushes the encoder; it is never
// skipped, even on cancellation, so the output stream is closed cleanly.
type SampleWriter interface {
	Start(ctx context.Context) error
	Ready() <-chan struct{}
	Append(*Sample) error
	Finish() error
}

// Finisher performs container finalization (mux, index write) after both
// tracks have fully drained.
type Finisher interface {
	Finalize(ctx context.Context) error
}

// TrackPipeline pairs one reader output with one writer input for a single
// media type. Created when the session starts, finished independently per
// track, never reused.
type TrackPipeline struct {
	Type   MediaType
	Reader SampleReader
	Writer SampleWriter
}

// VideoSettings is the negotiated encode configuration for the video track.
type VideoSettings struct {
	Width            int
	Height           int
	FrameRate        float64
	BitrateBps       int
	KeyframeInterval int
	Codec            models.Codec
	Rotation         int // carried as stream metadata, not a pixel rotation
}

// AudioSettings is the fixed re-encode target for the audio track. Any
// source layout is normalized to it; unusual channel configurations are not
// preserved.
type AudioSettings struct {
	SampleRate int
	Channels   int
	BitrateBps int
}

// DefaultAudioSettings returns the stereo/44.1kHz normalization target.
func DefaultAudioSettings(bitrateBps int) AudioSettings {
	return AudioSettings{SampleRate: 44_100, Channels: 2, BitrateBps: bitrateBps}
}

// KeyframeInterval computes the GOP length in frames. Two seconds by
// default: long enough to compress well, short enough to seek.
func KeyframeInterval(frameRate, gopSeconds float64) int {
	if gopSeconds <= 0 {
		gopSeconds = 2.0
	}
	n := int(math.Round(frameRate * gopSeconds))
	if n < 1 {
		n = 1
	}
	return n
}
