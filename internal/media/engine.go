// Package media backs the pipeline contracts with ffmpeg processes: decoded
// sample readers, encoding writer inputs, container finalization, and the
// one-shot preset export path.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"

	"vidcompact/pkg/models"
)

// Software encoder names. The size-targeted path always uses software
// encoders: their rate control tracks -b:v closely, which is what makes a
// byte budget meaningful. Hardware families are still probed for caps
// reporting.
const (
	encoderX264 = "libx264"
	encoderX265 = "libx265"
)

// Engine locates the ffmpeg binaries and knows what they can encode.
type Engine struct {
	FFmpegPath  string
	FFprobePath string

	encoders map[string]bool
	hwAccel  []string
	log      hclog.Logger
}

// NewEngine finds the binaries on PATH and probes encoder support.
func NewEngine(ffmpegPath, ffprobePath string, log hclog.Logger) (*Engine, error) {
	ff, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	fp, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe binary not found: %w", err)
	}

	e := &Engine{
		FFmpegPath:  ff,
		FFprobePath: fp,
		encoders:    map[string]bool{},
		log:         log.Named("media"),
	}
	e.probeEncoders()
	return e, nil
}

// probeEncoders asks ffmpeg what it supports. Checking encoders rather than
// drivers proves the software stack can actually use them.
func (e *Engine) probeEncoders() {
	out, err := exec.Command(e.FFmpegPath, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		// Assume the common software encoders and let a real start fail
		// loudly later if the assumption is wrong.
		e.encoders[encoderX264] = true
		return
	}
	s := string(out)
	for _, name := range []string{encoderX264, encoderX265, "aac"} {
		if strings.Contains(s, name) {
			e.encoders[name] = true
		}
	}
	for _, hw := range []string{"nvenc", "vaapi", "qsv", "videotoolbox"} {
		if strings.Contains(s, hw) {
			e.hwAccel = append(e.hwAccel, hw)
		}
	}
	e.log.Debug("probed encoders", "software", e.encoders, "hw_accel", e.hwAccel)
}

// VideoEncoder maps the requested codec onto an encoder name, failing when
// the local ffmpeg build cannot encode it.
func (e *Engine) VideoEncoder(codec models.Codec) (string, error) {
	var name string
	switch codec {
	case models.CodecH264:
		name = encoderX264
	case models.CodecHEVC:
		name = encoderX265
	default:
		return "", fmt.Errorf("unsupported codec %q", codec)
	}
	if !e.encoders[name] {
		return "", fmt.Errorf("encoder %s not available in this ffmpeg build", name)
	}
	return name, nil
}

// Capabilities lists what this host can do, for the caps command.
func (e *Engine) Capabilities() []string {
	var caps []string
	for name, ok := range e.encoders {
		if ok {
			caps = append(caps, name)
		}
	}
	caps = append(caps, e.hwAccel...)
	return caps
}

// commandContext builds an ffmpeg invocation that dies with the context.
// Used where a context kill is the desired cancellation behavior (preset
// export, mux).
func (e *Engine) commandContext(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, e.FFmpegPath, args...)
}

// command builds an ffmpeg invocation owned by its reader/writer. Track
// processes are torn down explicitly (reader Close kills, writer Finish
// closes stdin and lets the encoder flush) so cancellation never leaves a
// half-written stream.
func (e *Engine) command(args ...string) *exec.Cmd {
	return exec.Command(e.FFmpegPath, args...)
}
