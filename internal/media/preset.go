package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"vidcompact/internal/inspect"
	"vidcompact/internal/pipeline"
	"vidcompact/pkg/models"
)

// PresetExporter is the alternate path used when no byte-size target is
// given: one opaque ffmpeg run at the preset table bitrate, polled for
// progress by scanning its stderr clock.
type PresetExporter struct {
	engine *Engine
	log    hclog.Logger
}

func NewPresetExporter(e *Engine, log hclog.Logger) *PresetExporter {
	return &PresetExporter{engine: e, log: log.Named("preset")}
}

var (
	reTime = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d+)`)
)

// parseClock extracts the "time=00:00:15.45" position from an ffmpeg stderr
// status line.
func parseClock(line string) (time.Duration, bool) {
	m := reTime.FindStringSubmatch(line)
	if len(m) != 4 {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	return time.Duration((float64(h*3600+min*60) + sec) * float64(time.Second)), true
}

// Export runs the preset encode. Terminal outcomes: nil (completed),
// ErrCancelled (ctx cancelled), ErrExportFailed (encoder failure).
func (p *PresetExporter) Export(ctx context.Context, src, output string, meta inspect.Metadata,
	preset models.Preset, keepAudio bool, codec models.Codec, onProgress func(float64)) error {

	enc, err := p.engine.VideoEncoder(codec)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSetupFailed, err)
	}

	args := []string{
		"-hide_banner",
		"-i", src,
		"-c:v", enc,
		"-b:v", strconv.Itoa(inspect.PresetVideoBps(preset)),
	}
	if keepAudio && meta.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", "-y", output)

	cmd := p.engine.commandContext(ctx, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSetupFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrSetupFailed, err)
	}
	p.log.Debug("preset export started", "preset", string(preset), "output", output)

	total := time.Duration(meta.DurationSec * float64(time.Second))
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanCRLines)
	var lastLine string
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lastLine = line
		}
		pos, ok := parseClock(line)
		if !ok || total <= 0 || onProgress == nil {
			continue
		}
		onProgress(exportFrac(pos, total))
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.ErrCancelled
		}
		return fmt.Errorf("%w: %v: %s", models.ErrExportFailed, err, lastLine)
	}

	if onProgress != nil {
		onProgress(1.0)
	}
	return nil
}

// exportFrac maps the encoder's clock position to a progress fraction with
// the same finalization reserve as the session path: 1.0 is only reported
// once the run exits cleanly.
func exportFrac(pos, total time.Duration) float64 {
	frac := float64(pos) / float64(total)
	if frac > pipeline.CopyCeiling {
		frac = pipeline.CopyCeiling
	}
	return frac
}

// scanCRLines splits on \r as well as \n; ffmpeg rewrites its status line
// with carriage returns.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
