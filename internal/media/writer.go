package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"vidcompact/internal/pipeline"
)

// EncoderWriter is a SampleWriter backed by an ffmpeg encode process. Raw
// samples go in over stdin; the encoded elementary stream lands in a temp
// file that the muxer later folds into the container.
//
// Backpressure is the ready-token protocol: one token of capacity, re-armed
// only after the previous sample has been handed to the encoder, so decoded
// frames never pile up in memory faster than the encoder drains them.
type EncoderWriter struct {
	engine *Engine
	args   []string
	dest   string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	ready   chan struct{}
	pending chan *pipeline.Sample
	done    chan struct{}

	finishOnce sync.Once
	finishErr  error

	mu  sync.Mutex
	err error
}

func newEncoderWriter(e *Engine, dest string, args []string) *EncoderWriter {
	return &EncoderWriter{
		engine:  e,
		args:    args,
		dest:    dest,
		ready:   make(chan struct{}, 1),
		pending: make(chan *pipeline.Sample, 1),
		done:    make(chan struct{}),
	}
}

// NewVideoEncoder builds the writer input for the video track: target
// bitrate, GOP-length keyframe interval, codec profile.
func NewVideoEncoder(e *Engine, dest string, vs pipeline.VideoSettings) (*EncoderWriter, error) {
	enc, err := e.VideoEncoder(vs.Codec)
	if err != nil {
		return nil, err
	}

	format := "h264"
	profile := "high"
	if enc == encoderX265 {
		format = "hevc"
		profile = "main"
	}

	args := []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-video_size", fmt.Sprintf("%dx%d", vs.Width, vs.Height),
		"-framerate", strconv.FormatFloat(vs.FrameRate, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", enc,
		"-b:v", strconv.Itoa(vs.BitrateBps),
		"-g", strconv.Itoa(vs.KeyframeInterval),
		"-profile:v", profile,
		"-f", format,
		"-y", dest,
	}
	return newEncoderWriter(e, dest, args), nil
}

// NewAudioEncoder builds the writer input for the audio track: AAC at the
// fixed stereo/44.1kHz normalization target.
func NewAudioEncoder(e *Engine, dest string, as pipeline.AudioSettings) *EncoderWriter {
	args := []string{
		"-v", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(as.SampleRate),
		"-ac", strconv.Itoa(as.Channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(as.BitrateBps),
		"-f", "adts",
		"-y", dest,
	}
	return newEncoderWriter(e, dest, args)
}

// Start launches the encoder and the feed loop. A destination that cannot
// be created fails here, during session configuration.
func (w *EncoderWriter) Start(ctx context.Context) error {
	f, err := os.Create(w.dest)
	if err != nil {
		return fmt.Errorf("cannot open encode destination: %w", err)
	}
	f.Close()

	w.cmd = w.engine.command(w.args...)
	w.cmd.Stderr = &w.stderr

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return err
	}
	w.stdin = stdin

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("encoder start: %w", err)
	}

	go w.feedLoop()
	w.ready <- struct{}{} // initial capacity
	return nil
}

// feedLoop hands pending samples to the encoder and re-arms the ready
// token. After a write failure it keeps consuming (and granting tokens) so
// the copy loop never blocks; the error surfaces through Append/Finish.
func (w *EncoderWriter) feedLoop() {
	for s := range w.pending {
		if w.Err() == nil {
			if _, err := w.stdin.Write(s.Data); err != nil {
				w.setErr(fmt.Errorf("encoder feed: %v: %s", err, firstLine(w.stderr.String())))
			}
		}
		select {
		case w.ready <- struct{}{}:
		default:
		}
	}
	close(w.done)
}

// Ready yields one token per sample of encoder capacity.
func (w *EncoderWriter) Ready() <-chan struct{} { return w.ready }

// Append hands one sample to the encoder. The caller holds a ready token.
func (w *EncoderWriter) Append(s *pipeline.Sample) error {
	if err := w.Err(); err != nil {
		return err
	}
	w.pending <- s
	return nil
}

// Finish marks the input complete: the feed loop drains any in-flight
// sample, stdin closes, and the encoder flushes and exits. Safe to call
// once per track; the session never skips it.
func (w *EncoderWriter) Finish() error {
	w.finishOnce.Do(func() {
		close(w.pending)
		<-w.done
		_ = w.stdin.Close()
		if err := w.cmd.Wait(); err != nil && w.Err() == nil {
			w.setErr(fmt.Errorf("encoder exit: %v: %s", err, firstLine(w.stderr.String())))
		}
		w.finishErr = w.Err()
	})
	return w.finishErr
}

func (w *EncoderWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *EncoderWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
