package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndenisov/scribeflow/internal/audio"
)

type fakeBackend struct {
	name       string
	maxPayload int64
	calls      atomic.Int64
	fn         func(ctx context.Context, path string) (string, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) MaxPayloadBytes() int64 { return f.maxPayload }

func (f *fakeBackend) Transcribe(ctx context.Context, path string) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, path)
}

func newDispatcher(mode string, local, remote Backend) *Dispatcher {
	return &Dispatcher{
		Mode:          mode,
		Local:         local,
		Remote:        remote,
		Chunker:       audio.NewChunker(zap.NewNop()),
		MaxSegments:   48,
		LocalWorkers:  2,
		RemoteWorkers: 2,
		RetryAttempts: 3,
		Log:           zap.NewNop(),
	}
}

// writeSpeechWAV produces a mono 8kHz sine recording of the given
// length in seconds.
func writeSpeechWAV(t *testing.T, path string, seconds int) {
	t.Helper()

	frames := 8000 * seconds
	samples := make([]int, frames)
	for i := range samples {
		samples[i] = int(16000 * math.Sin(2*math.Pi*300*float64(i)/8000))
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		SourceBitDepth: 16,
		Data:           samples,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestRunSingleSegmentJob(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	backend := &fakeBackend{name: "local", fn: func(ctx context.Context, path string) (string, error) {
		return "  hello world  ", nil
	}}

	d := newDispatcher("local", backend, nil)
	job := &Job{ID: "job-1", SourcePath: src, State: StateAdmitted}
	require.NoError(t, d.Run(context.Background(), job))

	require.Equal(t, StateCompleted, job.State)
	require.Equal(t, "local", job.Backend)
	require.Len(t, job.Segments, 1)
	require.Equal(t, "hello world", job.Transcript)
	require.EqualValues(t, 1, backend.calls.Load())
}

func TestRunSplitsAndStitchesInOrder(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "long.wav")
	writeSpeechWAV(t, src, 3)

	// 48KB of PCM against a 20KB ceiling forces several segments.
	backend := &fakeBackend{name: "remote", maxPayload: 20000, fn: func(ctx context.Context, path string) (string, error) {
		return "piece " + filepath.Base(path), nil
	}}

	d := newDispatcher("remote", nil, backend)
	job := &Job{ID: "job-2", SourcePath: src, State: StateAdmitted}
	require.NoError(t, d.Run(context.Background(), job))

	require.Equal(t, StateCompleted, job.State)
	require.GreaterOrEqual(t, len(job.Segments), 2)
	require.EqualValues(t, int64(len(job.Segments)), backend.calls.Load())

	// Stitch order must follow segment index regardless of which worker
	// finished first.
	want := make([]string, 0, len(job.Segments))
	for i := range job.Segments {
		require.Equal(t, i, job.Segments[i].Index)
		want = append(want, "piece "+fmt.Sprintf("segment_%03d.wav", i))
	}
	require.Equal(t, strings.Join(want, " "), job.Transcript)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	var failures atomic.Int64
	backend := &fakeBackend{name: "local", fn: func(ctx context.Context, path string) (string, error) {
		if failures.Add(1) <= 2 {
			return "", newError(KindTransient, "local", errors.New("engine busy"))
		}
		return "finally", nil
	}}

	d := newDispatcher("local", backend, nil)
	job := &Job{ID: "job-3", SourcePath: src}
	require.NoError(t, d.Run(context.Background(), job))

	require.Equal(t, "finally", job.Transcript)
	require.EqualValues(t, 3, backend.calls.Load())
}

func TestRunStopsOnPermanentFailure(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	backend := &fakeBackend{name: "remote", fn: func(ctx context.Context, path string) (string, error) {
		return "", newError(KindPermanent, "remote", errors.New("unsupported format"))
	}}

	d := newDispatcher("remote", nil, backend)
	job := &Job{ID: "job-4", SourcePath: src}
	err := d.Run(context.Background(), job)
	require.Error(t, err)

	require.Equal(t, StateFailed, job.State)
	require.Equal(t, KindPermanent, KindOf(err))
	require.EqualValues(t, 1, backend.calls.Load(), "permanent failures must not retry")
}

func TestAutoModeDegradesToRemote(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	remote := &fakeBackend{name: "remote", fn: func(ctx context.Context, path string) (string, error) {
		return "remote text", nil
	}}

	d := newDispatcher("auto", nil, remote)
	job := &Job{ID: "job-5", SourcePath: src}
	require.NoError(t, d.Run(context.Background(), job))
	require.Equal(t, "remote", job.Backend)
}

func TestAutoModePrefersLocal(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	local := &fakeBackend{name: "local", fn: func(ctx context.Context, path string) (string, error) {
		return "local text", nil
	}}
	remote := &fakeBackend{name: "remote", fn: func(ctx context.Context, path string) (string, error) {
		return "remote text", nil
	}}

	d := newDispatcher("auto", local, remote)
	job := &Job{ID: "job-6", SourcePath: src}
	require.NoError(t, d.Run(context.Background(), job))
	require.Equal(t, "local", job.Backend)
	require.EqualValues(t, 0, remote.calls.Load())
}

func TestRouteFailsWithoutBackend(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	d := newDispatcher("local", nil, nil)
	job := &Job{ID: "job-7", SourcePath: src}
	err := d.Run(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, KindModelUnavailable, KindOf(err))
	require.Equal(t, StateFailed, job.State)
}

func TestRunRejectsOversizedUnsplittableAudio(t *testing.T) {
	t.Parallel()

	// Not WAV, over the ceiling: cannot be split, cannot be sent.
	src := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(src, make([]byte, 4096), 0o644))

	backend := &fakeBackend{name: "remote", maxPayload: 1024, fn: func(ctx context.Context, path string) (string, error) {
		return "never called", nil
	}}

	d := newDispatcher("remote", nil, backend)
	job := &Job{ID: "job-8", SourcePath: src}
	err := d.Run(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, KindAudioUnreadable, KindOf(err))
	require.EqualValues(t, 0, backend.calls.Load())
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "voice.wav")
	writeSpeechWAV(t, src, 1)

	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{name: "local", fn: func(ctx context.Context, path string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}

	d := newDispatcher("local", backend, nil)
	job := &Job{ID: "job-9", SourcePath: src}
	err := d.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateFailed, job.State)
}

func TestWorkerPoolIsSharedAcrossJobs(t *testing.T) {
	t.Parallel()

	// Two multi-segment jobs on one dispatcher with a single local
	// worker: the cap bounds total in-flight inference, not per-job.
	srcA := filepath.Join(t.TempDir(), "a.wav")
	srcB := filepath.Join(t.TempDir(), "b.wav")
	writeSpeechWAV(t, srcA, 3)
	writeSpeechWAV(t, srcB, 3)

	var inFlight, peak atomic.Int64
	backend := &fakeBackend{name: "local", maxPayload: 20000, fn: func(ctx context.Context, path string) (string, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}}

	d := &Dispatcher{
		Mode:          "local",
		Local:         backend,
		Chunker:       audio.NewChunker(zap.NewNop()),
		MaxSegments:   48,
		LocalWorkers:  1,
		RetryAttempts: 1,
	}

	errs := make(chan error, 2)
	for _, src := range []string{srcA, srcB} {
		src := src
		go func() {
			job := &Job{ID: filepath.Base(src), SourcePath: src}
			errs <- d.Run(context.Background(), job)
		}()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	require.EqualValues(t, 1, peak.Load(), "local inference cap must hold across concurrent jobs")
	require.Greater(t, backend.calls.Load(), int64(2))
}

func TestStitchSkipsSilentSegments(t *testing.T) {
	t.Parallel()

	segments := []audio.Segment{
		{Index: 0, Transcript: " first "},
		{Index: 1, Transcript: "   "},
		{Index: 2, Transcript: "third"},
	}
	require.Equal(t, "first third", stitch(segments))
}
