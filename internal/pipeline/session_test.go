package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidcompact/pkg/models"
)

// fakeReader emits a fixed sample sequence, optionally failing partway or
// sleeping per sample to skew loop interleaving.
type fakeReader struct {
	samples  []*Sample
	idx      int
	startErr error
	failAt   int // -1 to never fail
	delay    time.Duration

	mu     sync.Mutex
	closed bool
}

func newFakeReader(n int, dt time.Duration) *fakeReader {
	r := &fakeReader{failAt: -1}
	for i := 0; i < n; i++ {
		r.samples = append(r.samples, &Sample{
			Data:     []byte{byte(i)},
			PTS:      time.Duration(i) * dt,
			Duration: dt,
		})
	}
	return r
}

func (r *fakeReader) Start(context.Context) error { return r.startErr }

func (r *fakeReader) Next(context.Context) (*Sample, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.failAt >= 0 && r.idx == r.failAt {
		return nil, errors.New("decoder exploded")
	}
	if r.idx >= len(r.samples) {
		return nil, io.EOF
	}
	s := r.samples[r.idx]
	r.idx++
	return s, nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// fakeWriter models the ready-token protocol: one token of capacity,
// re-armed after each append.
type fakeWriter struct {
	ready    chan struct{}
	startErr error

	mu        sync.Mutex
	appended  int
	finished  bool
	appendErr error
}

func newFakeWriter() *fakeWriter {
	w := &fakeWriter{ready: make(chan struct{}, 1)}
	w.ready <- struct{}{}
	return w
}

func (w *fakeWriter) Start(context.Context) error { return w.startErr }
func (w *fakeWriter) Ready() <-chan struct{}      { return w.ready }

func (w *fakeWriter) Append(*Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.appendErr != nil {
		return w.appendErr
	}
	w.appended++
	select {
	case w.ready <- struct{}{}:
	default:
	}
	return nil
}

func (w *fakeWriter) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = true
	return nil
}

func (w *fakeWriter) stats() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended, w.finished
}

type fakeFinisher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFinisher) Finalize(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type progressLog struct {
	mu    sync.Mutex
	fracs []float64
}

func (p *progressLog) add(f float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fracs = append(p.fracs, f)
}

func (p *progressLog) values() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.fracs...)
}

func buildSession(t *testing.T, video, audio *TrackPipeline, fin Finisher, onProgress func(float64)) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		Video:      video,
		Audio:      audio,
		Finisher:   fin,
		Duration:   time.Duration(len(videoSamples(video))) * 40 * time.Millisecond,
		OnProgress: onProgress,
	})
}

func videoSamples(tp *TrackPipeline) []*Sample {
	return tp.Reader.(*fakeReader).samples
}

func TestSessionCompletesAudioFinishesFirst(t *testing.T) {
	vr := newFakeReader(50, 40*time.Millisecond)
	vr.delay = time.Millisecond // video is the slow track
	ar := newFakeReader(5, 400*time.Millisecond)
	vw, aw := newFakeWriter(), newFakeWriter()
	fin := &fakeFinisher{}
	progress := &progressLog{}

	s := buildSession(t,
		&TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw},
		&TrackPipeline{Type: MediaAudio, Reader: ar, Writer: aw},
		fin, progress.add)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, models.StateCompleted, s.State())
	assert.Equal(t, int32(1), fin.calls.Load())

	va, vf := vw.stats()
	aa, af := aw.stats()
	assert.Equal(t, 50, va)
	assert.Equal(t, 5, aa)
	assert.True(t, vf)
	assert.True(t, af)

	fracs := progress.values()
	require.NotEmpty(t, fracs)
	for i := 1; i < len(fracs); i++ {
		assert.GreaterOrEqual(t, fracs[i], fracs[i-1])
	}
	assert.Equal(t, 1.0, fracs[len(fracs)-1])
}

func TestSessionCompletesVideoFinishesFirst(t *testing.T) {
	vr := newFakeReader(5, 40*time.Millisecond)
	ar := newFakeReader(50, 4*time.Millisecond)
	ar.delay = time.Millisecond // audio lags behind
	vw, aw := newFakeWriter(), newFakeWriter()
	fin := &fakeFinisher{}

	s := buildSession(t,
		&TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw},
		&TrackPipeline{Type: MediaAudio, Reader: ar, Writer: aw},
		fin, nil)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, models.StateCompleted, s.State())
	assert.Equal(t, int32(1), fin.calls.Load(), "completion must fire exactly once")
}

func TestSessionVideoOnly(t *testing.T) {
	vr := newFakeReader(10, 40*time.Millisecond)
	vw := newFakeWriter()
	fin := &fakeFinisher{}

	s := buildSession(t, &TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw}, nil, fin, nil)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, models.StateCompleted, s.State())
	assert.Equal(t, 1.0, s.Progress())
}

func TestSessionReaderFailure(t *testing.T) {
	vr := newFakeReader(20, 40*time.Millisecond)
	vr.failAt = 7
	ar := newFakeReader(5, 400*time.Millisecond)
	vw, aw := newFakeWriter(), newFakeWriter()
	fin := &fakeFinisher{}

	s := buildSession(t,
		&TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw},
		&TrackPipeline{Type: MediaAudio, Reader: ar, Writer: aw},
		fin, nil)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExportFailed)
	assert.Contains(t, err.Error(), "decoder exploded")
	assert.Equal(t, models.StateFailed, s.State())
	assert.Equal(t, int32(0), fin.calls.Load(), "failed sessions are not finalized")

	// Both writers were still finished so nothing is left mid-write.
	_, vf := vw.stats()
	_, af := aw.stats()
	assert.True(t, vf)
	assert.True(t, af)
}

func TestSessionSetupFailure(t *testing.T) {
	vr := newFakeReader(5, 40*time.Millisecond)
	vw := newFakeWriter()
	vw.startErr = errors.New("destination not writable")
	fin := &fakeFinisher{}

	s := buildSession(t, &TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw}, nil, fin, nil)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSetupFailed)
	assert.Equal(t, models.StateFailed, s.State())
	assert.Equal(t, int32(0), fin.calls.Load())

	// The reader had already started when the writer failed; it must not
	// stay running.
	assert.True(t, vr.isClosed(), "started reader must be torn down when a later Start fails")
}

func TestSessionSetupFailureTearsDownEarlierTrack(t *testing.T) {
	vr, ar := newFakeReader(5, 40*time.Millisecond), newFakeReader(5, 40*time.Millisecond)
	vw, aw := newFakeWriter(), newFakeWriter()
	aw.startErr = errors.New("audio destination not writable")

	s := buildSession(t,
		&TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw},
		&TrackPipeline{Type: MediaAudio, Reader: ar, Writer: aw},
		&fakeFinisher{}, nil)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, models.ErrSetupFailed)

	// The fully started video pipeline is wound down: writer finished (its
	// feed loop exits) and reader closed. The audio reader started too and
	// is also closed; the failed audio writer is left untouched.
	_, vf := vw.stats()
	assert.True(t, vf)
	assert.True(t, vr.isClosed())
	assert.True(t, ar.isClosed())
	_, af := aw.stats()
	assert.False(t, af, "a writer that never started must not be finished")
}

func TestSessionCancellation(t *testing.T) {
	vr := newFakeReader(1000, 10*time.Millisecond)
	vr.delay = time.Millisecond
	ar := newFakeReader(1000, 10*time.Millisecond)
	ar.delay = time.Millisecond
	vw, aw := newFakeWriter(), newFakeWriter()
	fin := &fakeFinisher{}

	var s *Session
	var atCancel atomic.Int32
	progress := func(f float64) {
		if f > 0.01 && atCancel.Load() == 0 {
			n, _ := vw.stats()
			atCancel.Store(int32(n))
			s.Cancel()
		}
	}

	s = buildSession(t,
		&TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw},
		&TrackPipeline{Type: MediaAudio, Reader: ar, Writer: aw},
		fin, progress)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.Equal(t, models.StateCancelled, s.State())

	// The video loop observed the flag on its next iteration: no appends
	// landed after Cancel returned.
	n, vf := vw.stats()
	assert.Equal(t, atCancel.Load(), int32(n))
	assert.True(t, vf, "writers are finished, not aborted")
	_, af := aw.stats()
	assert.True(t, af)

	// Far fewer than the full thousand samples were pulled.
	assert.Less(t, n, 100)
}

func TestSessionContextCancelBehavesLikeCancellation(t *testing.T) {
	vr := newFakeReader(1000, 10*time.Millisecond)
	vr.delay = time.Millisecond
	vw := newFakeWriter()

	s := buildSession(t, &TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw}, nil, &fakeFinisher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.Equal(t, models.StateCancelled, s.State())
}

func TestSessionFinalizeFailure(t *testing.T) {
	vr := newFakeReader(3, 40*time.Millisecond)
	vw := newFakeWriter()
	fin := &fakeFinisher{err: errors.New("moov write failed")}
	progress := &progressLog{}

	s := buildSession(t, &TrackPipeline{Type: MediaVideo, Reader: vr, Writer: vw}, nil, fin, progress.add)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExportFailed)
	assert.Equal(t, models.StateFailed, s.State())

	// Progress never claimed completion.
	for _, f := range progress.values() {
		assert.Less(t, f, 1.0)
	}
}
