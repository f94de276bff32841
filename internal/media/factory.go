package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"vidcompact/internal/pipeline"
)

// Factory assembles ffmpeg-backed track pipelines for one session. Each
// session gets its own scratch directory; nothing is shared across
// sessions.
type Factory struct {
	engine  *Engine
	tempDir string
	log     hclog.Logger
}

func NewFactory(e *Engine, tempDir string, log hclog.Logger) *Factory {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Factory{engine: e, tempDir: tempDir, log: log}
}

// Build wires the video pipeline, the optional audio pipeline, and the
// container finisher for one compression session. as == nil means no audio
// track runs.
//
// The returned cleanup removes the session's scratch directory and the
// elementary streams inside it. The caller runs it on every terminal path;
// a failed session would otherwise orphan full-length encoded streams in
// the temp dir.
func (f *Factory) Build(src, output string, vs pipeline.VideoSettings, as *pipeline.AudioSettings) (*pipeline.TrackPipeline, *pipeline.TrackPipeline, pipeline.Finisher, func(), error) {
	scratch := filepath.Join(f.tempDir, "vidcompact-"+uuid.New().String())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("scratch dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(scratch) }

	esExt := ".h264"
	if vs.Codec == "hevc" {
		esExt = ".h265"
	}
	videoES := filepath.Join(scratch, "video"+esExt)

	videoWriter, err := NewVideoEncoder(f.engine, videoES, vs)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	video := &pipeline.TrackPipeline{
		Type:   pipeline.MediaVideo,
		Reader: NewFrameReader(f.engine, src, vs),
		Writer: videoWriter,
	}

	var audio *pipeline.TrackPipeline
	audioES := ""
	if as != nil {
		audioES = filepath.Join(scratch, "audio.aac")
		audio = &pipeline.TrackPipeline{
			Type:   pipeline.MediaAudio,
			Reader: NewPCMReader(f.engine, src, *as),
			Writer: NewAudioEncoder(f.engine, audioES, *as),
		}
	}

	fin := NewMuxer(f.engine, videoES, audioES, output, vs, f.log)
	return video, audio, fin, cleanup, nil
}
