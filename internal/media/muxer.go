package media

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"vidcompact/internal/pipeline"
)

// Muxer performs container finalization: it folds the encoded elementary
// streams into the output container, writes the index up front
// (+faststart), and carries source rotation as stream metadata so rotated
// video plays upright without a pixel rotation pass.
type Muxer struct {
	engine  *Engine
	videoES string
	audioES string // empty when no audio track ran
	output  string
	vs      pipeline.VideoSettings
	log     hclog.Logger
}

func NewMuxer(e *Engine, videoES, audioES, output string, vs pipeline.VideoSettings, log hclog.Logger) *Muxer {
	return &Muxer{
		engine:  e,
		videoES: videoES,
		audioES: audioES,
		output:  output,
		vs:      vs,
		log:     log.Named("mux"),
	}
}

// Finalize runs after both tracks have drained. Only when it returns nil is
// the session allowed to report completion.
func (m *Muxer) Finalize(ctx context.Context) error {
	args := []string{
		"-v", "error",
		"-r", strconv.FormatFloat(m.vs.FrameRate, 'f', -1, 64),
		"-i", m.videoES,
	}
	if m.audioES != "" {
		args = append(args, "-i", m.audioES)
	}
	args = append(args, "-c", "copy")
	if m.vs.Rotation != 0 {
		args = append(args, "-metadata:s:v:0", fmt.Sprintf("rotate=%d", m.vs.Rotation))
	}
	args = append(args, "-movflags", "+faststart", "-y", m.output)

	out, err := m.engine.commandContext(ctx, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mux: %v: %s", err, firstLine(string(out)))
	}

	m.log.Debug("container finalized", "output", m.output)
	return nil
}
