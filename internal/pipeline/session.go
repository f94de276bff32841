package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"vidcompact/pkg/models"
)

// SessionConfig wires a Session together. Audio may be nil; the barrier
// accounts for it.
type SessionConfig struct {
	ID         string // generated when empty
	Video      *TrackPipeline
	Audio      *TrackPipeline
	Finisher   Finisher
	Duration   time.Duration
	OnProgress func(float64)
	Logger     hclog.Logger
}

// Session owns one video pipeline and at most one audio pipeline, drives
// them concurrently, and resolves to exactly one terminal state.
//
// States: configuring -> running -> {completed, failed, cancelled}. The
// completion barrier is an atomic countdown initialized to the number of
// active tracks; only the loop that decrements it to zero releases the
// finalization step, so completion cannot fire twice or early when one
// track drains far ahead of the other.
type Session struct {
	id       string
	log      hclog.Logger
	video    *TrackPipeline
	audio    *TrackPipeline
	finisher Finisher
	duration time.Duration

	reporter   *Reporter
	onProgress func(float64)

	state     atomic.Int32 // models.SessionState, see stateTable
	remaining atomic.Int32
	drained   chan struct{} // closed once the countdown reaches zero

	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	errMu    sync.Mutex
	firstErr error
}

var stateTable = []models.SessionState{
	models.StateConfiguring,
	models.StateRunning,
	models.StateCompleted,
	models.StateFailed,
	models.StateCancelled,
}

const (
	stConfiguring int32 = iota
	stRunning
	stCompleted
	stFailed
	stCancelled
)

// NewSession builds a session in the configuring state.
func NewSession(cfg SessionConfig) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := &Session{
		id:         id,
		video:      cfg.Video,
		audio:      cfg.Audio,
		finisher:   cfg.Finisher,
		duration:   cfg.Duration,
		reporter:   NewReporter(),
		onProgress: cfg.OnProgress,
		drained:    make(chan struct{}),
		cancelCh:   make(chan struct{}),
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s.log = logger.Named("session").With("session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	return stateTable[s.state.Load()]
}

// Progress returns the current progress fraction.
func (s *Session) Progress() float64 { return s.reporter.Fraction() }

// Cancel requests cooperative cancellation. Both loops observe the flag at
// the top of their next iteration; in-flight appends complete.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.cancelCh)
		s.log.Info("cancellation requested")
	})
}

// Run drives the session to a terminal state and blocks until it gets
// there. It returns nil only for a completed session.
func (s *Session) Run(ctx context.Context) error {
	if err := s.startPipelines(ctx); err != nil {
		s.state.Store(stFailed)
		return fmt.Errorf("%w: %v", models.ErrSetupFailed, err)
	}

	tracks := []*TrackPipeline{s.video}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	// Audio absent means the barrier starts at one: that track counts as
	// already finished.
	s.remaining.Store(int32(len(tracks)))
	s.state.Store(stRunning)
	s.log.Debug("session running", "tracks", len(tracks))

	for _, tp := range tracks {
		go s.copyLoop(ctx, tp)
	}

	<-s.drained
	return s.finish(ctx)
}

func (s *Session) startPipelines(ctx context.Context) error {
	pipes := []*TrackPipeline{s.video}
	if s.audio != nil {
		pipes = append(pipes, s.audio)
	}

	// Components started before a later Start fails are torn down here:
	// writers are finished so their feed loops and processes exit, readers
	// are closed so decoders stop. Only components that actually started
	// are touched.
	var readers []SampleReader
	var writers []SampleWriter
	teardown := func() {
		for _, w := range writers {
			_ = w.Finish()
		}
		for _, r := range readers {
			_ = r.Close()
		}
	}

	for _, tp := range pipes {
		if err := tp.Reader.Start(ctx); err != nil {
			teardown()
			return fmt.Errorf("%s reader: %v", tp.Type, err)
		}
		readers = append(readers, tp.Reader)
		if err := tp.Writer.Start(ctx); err != nil {
			teardown()
			return fmt.Errorf("%s writer: %v", tp.Type, err)
		}
		writers = append(writers, tp.Writer)
	}
	return nil
}

// copyLoop is one track's pull loop: wait for encoder capacity, pull the
// next sample, append it. Video samples advance the progress timestamp.
func (s *Session) copyLoop(ctx context.Context, tp *TrackPipeline) {
	defer s.trackDone(tp.Type)

	for {
		if s.cancelled.Load() {
			break
		}
		select {
		case <-ctx.Done():
			s.Cancel()
			continue // re-check the flag, then wind down
		case <-s.cancelCh:
			continue
		case <-tp.Writer.Ready():
		}

		sample, err := tp.Reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.recordErr(fmt.Errorf("%s reader: %w", tp.Type, err))
			break
		}

		if err := tp.Writer.Append(sample); err != nil {
			s.recordErr(fmt.Errorf("%s writer: %w", tp.Type, err))
			break
		}

		if tp.Type == MediaVideo {
			frac := s.reporter.Observe(sample.PTS+sample.Duration, s.duration)
			s.emit(frac)
		}
	}

	// The writer is always finished, never aborted mid-write: a cleanly
	// closed stream keeps the container muxable even after cancellation.
	if err := tp.Writer.Finish(); err != nil {
		s.recordErr(fmt.Errorf("%s writer finish: %w", tp.Type, err))
	}
	if err := tp.Reader.Close(); err != nil {
		s.log.Debug("reader close", "track", string(tp.Type), "error", err)
	}
}

// trackDone decrements the completion barrier. The goroutine that brings it
// to zero is the only one that releases finalization.
func (s *Session) trackDone(mt MediaType) {
	s.log.Debug("track finished", "track", string(mt))
	if s.remaining.Add(-1) == 0 {
		close(s.drained)
	}
}

// finish runs once both loops have stopped and resolves the terminal state.
func (s *Session) finish(ctx context.Context) error {
	if err := s.trackErr(); err != nil {
		s.state.Store(stFailed)
		s.log.Error("session failed", "error", err)
		return fmt.Errorf("%w: %v", models.ErrExportFailed, err)
	}

	if s.cancelled.Load() {
		// Best-effort finalize keeps the partial file structurally valid;
		// the caller discards it either way.
		if s.finisher != nil {
			_ = s.finisher.Finalize(ctx)
		}
		s.state.Store(stCancelled)
		s.log.Info("session cancelled")
		return models.ErrCancelled
	}

	if s.finisher != nil {
		if err := s.finisher.Finalize(ctx); err != nil {
			s.state.Store(stFailed)
			s.log.Error("finalization failed", "error", err)
			return fmt.Errorf("%w: finalize: %v", models.ErrExportFailed, err)
		}
	}

	s.emit(s.reporter.Finish())
	s.state.Store(stCompleted)
	s.log.Info("session completed")
	return nil
}

func (s *Session) recordErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.firstErr == nil {
		s.firstErr = err
	}
}

func (s *Session) trackErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

func (s *Session) emit(frac float64) {
	if s.onProgress != nil {
		s.onProgress(frac)
	}
}
