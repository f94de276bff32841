// Package compressor is the caller-facing entry point: it validates the
// request, gathers metadata, applies the memory-pressure advice, and drives
// either the preset export or the size-targeted session to a terminal state.
package compressor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"vidcompact/internal/budget"
	"vidcompact/internal/config"
	"vidcompact/internal/inspect"
	"vidcompact/internal/media"
	"vidcompact/internal/notify"
	"vidcompact/internal/pipeline"
	"vidcompact/internal/pressure"
	"vidcompact/pkg/models"
)

// Compressor holds the long-lived collaborators. Each Compress call builds
// its own session; concurrent calls share nothing mutable.
type Compressor struct {
	cfg       *config.Config
	engine    *media.Engine
	inspector *inspect.Inspector
	advisor   *pressure.Advisor
	calc      *budget.Calculator
	factory   *media.Factory
	preset    *media.PresetExporter
	log       hclog.Logger
}

// New wires a Compressor from config. Fails when the ffmpeg binaries are
// missing, so a broken environment surfaces at startup instead of mid-job.
func New(cfg *config.Config, log hclog.Logger) (*Compressor, error) {
	engine, err := media.NewEngine(cfg.FFmpegPath, cfg.FFprobePath, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSetupFailed, err)
	}
	th := pressure.Thresholds{
		ModeratePct: cfg.PressureModeratePct,
		HighPct:     cfg.PressureHighPct,
		CriticalPct: cfg.PressureCriticalPct,
	}
	return &Compressor{
		cfg:       cfg,
		engine:    engine,
		inspector: inspect.New(engine.FFprobePath, log),
		advisor:   pressure.NewAdvisor(th, log),
		calc:      budget.New(cfg.SafetyMargin, cfg.MinVideoBps, cfg.AudioBitrateBps),
		factory:   media.NewFactory(engine, cfg.TempDir, log),
		preset:    media.NewPresetExporter(engine, log),
		log:       log.Named("compressor"),
	}, nil
}

// Inspect exposes asset metadata for pre-flight commands.
func (c *Compressor) Inspect(ctx context.Context, path string) (inspect.Metadata, error) {
	return c.inspector.Inspect(ctx, path)
}

// Capabilities reports what the local encode stack supports.
func (c *Compressor) Capabilities() []string { return c.engine.Capabilities() }

// Compress runs one request to a terminal state and blocks until it gets
// there. On success it returns the output path; on any other outcome the
// partial output file is invalid and the caller discards it.
func (c *Compressor) Compress(ctx context.Context, req models.CompressionRequest, onProgress func(float64)) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	meta, err := c.inspector.Inspect(ctx, req.Input)
	if err != nil {
		// InvalidAsset / NoVideoTrack: nothing has been created yet.
		return "", err
	}

	jobID := uuid.New().String()
	log := c.log.With("job_id", jobID, "input", req.Input)
	started := time.Now()

	progress, finishNotify := c.progressSink(ctx, jobID, onProgress)

	var runErr error
	if req.HasPreset() {
		log.Info("starting preset export", "preset", string(req.Preset))
		runErr = c.preset.Export(ctx, req.Input, req.Output, meta,
			req.Preset, req.KeepAudio, req.Codec, progress)
	} else {
		runErr = c.compressToSize(ctx, jobID, req, meta, progress, log)
	}

	state := models.StateCompleted
	switch {
	case runErr == nil:
	case isCancel(runErr):
		state = models.StateCancelled
	default:
		state = models.StateFailed
	}
	finishNotify(state, req.Output, runErr, time.Since(started))

	if runErr != nil {
		return "", runErr
	}
	log.Info("compression finished", "output", req.Output, "elapsed", time.Since(started).Round(time.Millisecond))
	return req.Output, nil
}

// compressToSize is the size-targeted path: budget first (cheap failure),
// pressure advice once, then the synchronized two-track session.
func (c *Compressor) compressToSize(ctx context.Context, jobID string, req models.CompressionRequest,
	meta inspect.Metadata, progress func(float64), log hclog.Logger) error {

	keepAudio := req.KeepAudio && meta.HasAudio
	b, err := c.calc.Compute(meta.DurationSec, req.TargetSizeMB, keepAudio)
	if err != nil {
		return err
	}
	log.Info("bitrate budget computed",
		"video_bps", b.VideoBitrateBps, "audio_bps", b.AudioBitrateBps,
		"target_mb", req.TargetSizeMB)

	// One-shot quality adjustment, strictly before the session exists.
	q := c.advisor.Advise(ctx, pressure.Quality{Width: meta.Width, Height: meta.Height}, meta.SizeBytes)

	vs := buildVideoSettings(meta, q, b.VideoBitrateBps, req.Codec, c.cfg.GOPSeconds)
	var as *pipeline.AudioSettings
	if keepAudio {
		a := pipeline.DefaultAudioSettings(b.AudioBitrateBps)
		as = &a
	}

	video, audio, fin, cleanup, err := c.factory.Build(req.Input, req.Output, vs, as)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSetupFailed, err)
	}
	// Scratch streams are removed on every terminal path, not just success.
	defer cleanup()

	sess := pipeline.NewSession(pipeline.SessionConfig{
		ID:         jobID,
		Video:      video,
		Audio:      audio,
		Finisher:   fin,
		Duration:   time.Duration(meta.DurationSec * float64(time.Second)),
		OnProgress: progress,
		Logger:     c.log,
	})
	return sess.Run(ctx)
}

// progressSink fans progress out to the caller and, when configured, to the
// callback URL. The returned finish func posts the terminal result once.
func (c *Compressor) progressSink(ctx context.Context, jobID string, onProgress func(float64)) (func(float64), func(models.SessionState, string, error, time.Duration)) {
	if c.cfg.CallbackURL == "" {
		noop := func(models.SessionState, string, error, time.Duration) {}
		return onProgress, noop
	}

	n := notify.New(c.cfg.CallbackURL, jobID,
		time.Duration(c.cfg.NotifyInterval)*time.Second, c.log)
	n.Start(ctx)

	progress := func(f float64) {
		n.Observe(models.StateRunning, f)
		if onProgress != nil {
			onProgress(f)
		}
	}
	finish := func(state models.SessionState, output string, err error, elapsed time.Duration) {
		payload := models.ResultPayload{
			SessionID: jobID,
			State:     state,
			ElapsedMS: elapsed.Milliseconds(),
		}
		if err != nil {
			payload.ErrorMsg = err.Error()
		} else {
			payload.OutputPath = output
		}
		// The session ctx may already be cancelled; the result still goes out.
		postCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n.Result(postCtx, payload)
	}
	return progress, finish
}

// buildVideoSettings folds metadata, advised quality, and the budget into
// the video track's encode configuration.
func buildVideoSettings(meta inspect.Metadata, q pressure.Quality, bitrateBps int,
	codec models.Codec, gopSeconds float64) pipeline.VideoSettings {
	return pipeline.VideoSettings{
		Width:            q.Width &^ 1, // encoders reject odd dimensions
		Height:           q.Height &^ 1,
		FrameRate:        meta.FrameRate,
		BitrateBps:       bitrateBps,
		KeyframeInterval: pipeline.KeyframeInterval(meta.FrameRate, gopSeconds),
		Codec:            codec,
		Rotation:         meta.Rotation,
	}
}

func isCancel(err error) bool {
	return errors.Is(err, models.ErrCancelled) || errors.Is(err, context.Canceled)
}
