package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"vidcompact/internal/pipeline"
)

// FrameReader decodes the source's video track to yuv420p frames over a
// pipe and hands them out one Sample per frame.
type FrameReader struct {
	engine   *Engine
	src      string
	settings pipeline.VideoSettings

	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	frameSize int
	frameDur  time.Duration
	index     int64
	eof       bool
	waited    bool
}

func NewFrameReader(e *Engine, src string, vs pipeline.VideoSettings) *FrameReader {
	return &FrameReader{engine: e, src: src, settings: vs}
}

func (r *FrameReader) Start(ctx context.Context) error {
	w, h := r.settings.Width, r.settings.Height
	if w <= 0 || h <= 0 || r.settings.FrameRate <= 0 {
		return fmt.Errorf("frame reader needs positive dimensions and frame rate")
	}
	// yuv420p: full-res luma plane plus two quarter-res chroma planes.
	r.frameSize = w * h * 3 / 2
	r.frameDur = time.Duration(float64(time.Second) / r.settings.FrameRate)

	args := []string{
		"-v", "error",
		"-i", r.src,
		"-map", "0:v:0",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"pipe:1",
	}
	r.cmd = r.engine.command(args...)
	r.cmd.Stderr = &r.stderr

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	r.stdout = stdout
	return r.cmd.Start()
}

// Next returns the next decoded frame, io.EOF once the track is drained.
func (r *FrameReader) Next(ctx context.Context) (*pipeline.Sample, error) {
	if r.eof {
		return nil, io.EOF
	}
	buf := make([]byte, r.frameSize)
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		r.eof = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			werr := r.wait()
			if werr != nil {
				return nil, fmt.Errorf("video decode: %v: %s", werr, firstLine(r.stderr.String()))
			}
			return nil, io.EOF
		}
		return nil, fmt.Errorf("video decode read: %w", err)
	}

	s := &pipeline.Sample{
		Data:     buf,
		PTS:      time.Duration(r.index) * r.frameDur,
		Duration: r.frameDur,
	}
	r.index++
	return s, nil
}

func (r *FrameReader) wait() error {
	r.waited = true
	return r.cmd.Wait()
}

func (r *FrameReader) Close() error {
	if r.cmd == nil || r.cmd.Process == nil || r.waited {
		return nil
	}
	// Torn down before draining (cancel or failure): stop the decoder.
	_ = r.cmd.Process.Kill()
	_ = r.wait()
	return nil
}

// pcmChunkFrames is how many audio frames one Sample carries. 1024 matches
// the AAC frame size so the encoder sees natural block boundaries.
const pcmChunkFrames = 1024

// PCMReader decodes the source's audio track to interleaved s16le PCM at
// the fixed normalization target.
type PCMReader struct {
	engine   *Engine
	src      string
	settings pipeline.AudioSettings

	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	bytesPerF int
	samples   int64
	eof       bool
	waited    bool
}

func NewPCMReader(e *Engine, src string, as pipeline.AudioSettings) *PCMReader {
	return &PCMReader{engine: e, src: src, settings: as}
}

func (r *PCMReader) Start(ctx context.Context) error {
	r.bytesPerF = 2 * r.settings.Channels // s16le

	args := []string{
		"-v", "error",
		"-i", r.src,
		"-map", "0:a:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(r.settings.SampleRate),
		"-ac", strconv.Itoa(r.settings.Channels),
		"pipe:1",
	}
	r.cmd = r.engine.command(args...)
	r.cmd.Stderr = &r.stderr

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	r.stdout = stdout
	return r.cmd.Start()
}

func (r *PCMReader) Next(ctx context.Context) (*pipeline.Sample, error) {
	if r.eof {
		return nil, io.EOF
	}
	buf := make([]byte, pcmChunkFrames*r.bytesPerF)
	n, err := io.ReadFull(r.stdout, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Trailing partial block: emit it, report EOF on the next pull.
		r.eof = true
		_ = r.wait()
		n -= n % r.bytesPerF
		if n == 0 {
			return nil, io.EOF
		}
		buf = buf[:n]
	case errors.Is(err, io.EOF):
		r.eof = true
		if werr := r.wait(); werr != nil {
			return nil, fmt.Errorf("audio decode: %v: %s", werr, firstLine(r.stderr.String()))
		}
		return nil, io.EOF
	default:
		r.eof = true
		return nil, fmt.Errorf("audio decode read: %w", err)
	}

	frames := int64(n / r.bytesPerF)
	s := &pipeline.Sample{
		Data:     buf,
		PTS:      r.ptsAt(r.samples),
		Duration: r.ptsAt(frames),
	}
	r.samples += frames
	return s, nil
}

func (r *PCMReader) ptsAt(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(r.settings.SampleRate))
}

func (r *PCMReader) wait() error {
	r.waited = true
	return r.cmd.Wait()
}

func (r *PCMReader) Close() error {
	if r.cmd == nil || r.cmd.Process == nil || r.waited {
		return nil
	}
	_ = r.cmd.Process.Kill()
	_ = r.wait()
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
