package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ndenisov/scribeflow/internal/audio"
	"github.com/ndenisov/scribeflow/internal/metrics"
)

// State tracks a job through its lifecycle.
type State string

const (
	StateAdmitted     State = "admitted"
	StateChunking     State = "chunking"
	StateTranscribing State = "transcribing"
	StateStitching    State = "stitching"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Job is one admitted transcription request. The dispatcher fills in
// Backend, Segments, and Transcript as it advances the state.
type Job struct {
	ID           string
	UserID       int64
	OriginalName string
	SourcePath   string
	SourceBytes  int64

	State      State
	Backend    string
	Segments   []audio.Segment
	Transcript string
}

// Dispatcher owns backend routing and the segment worker pools. The
// backend is chosen once per job; segments of one job never mix
// backends.
type Dispatcher struct {
	Mode   string // local, remote, or auto
	Local  Backend
	Remote Backend

	Chunker       *audio.Chunker
	MaxSegments   int
	LocalWorkers  int
	RemoteWorkers int
	RetryAttempts int

	Log     *zap.Logger
	Metrics *metrics.Metrics

	poolOnce  sync.Once
	localSem  *semaphore.Weighted
	remoteSem *semaphore.Weighted
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d *Dispatcher) meter() *metrics.Metrics {
	if d.Metrics == nil {
		return metrics.NewNop()
	}
	return d.Metrics
}

// route picks the backend for a whole job. In auto mode a missing local
// engine degrades to remote, loudly.
func (d *Dispatcher) route(job *Job) (Backend, error) {
	switch d.Mode {
	case "local":
		if d.Local == nil {
			return nil, newError(KindModelUnavailable, "local", errors.New("local backend is not available"))
		}
		return d.Local, nil
	case "remote":
		if d.Remote == nil {
			return nil, newError(KindPermanent, "remote", errors.New("remote backend is not configured"))
		}
		return d.Remote, nil
	case "auto":
		if d.Local != nil {
			return d.Local, nil
		}
		if d.Remote == nil {
			return nil, newError(KindModelUnavailable, "", errors.New("no transcription backend available"))
		}
		d.logger().Warn("local engine unavailable, degrading to remote API",
			zap.String("job", job.ID))
		return d.Remote, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", d.Mode)
	}
}

// Run drives the job from admitted to completed or failed. On failure
// the job's state is StateFailed and the returned error carries the
// failure kind.
func (d *Dispatcher) Run(ctx context.Context, job *Job) error {
	if err := d.run(ctx, job); err != nil {
		job.State = StateFailed
		return err
	}
	job.State = StateCompleted
	return nil
}

func (d *Dispatcher) run(ctx context.Context, job *Job) error {
	backend, err := d.route(job)
	if err != nil {
		return err
	}
	job.Backend = backend.Name()

	job.State = StateChunking
	segments, err := d.Chunker.Split(job.SourcePath, audio.Limits{
		MaxBytes:    backend.MaxPayloadBytes(),
		MaxSegments: d.MaxSegments,
	})
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrTooLarge):
			return newError(KindFileTooLarge, backend.Name(), err)
		case errors.Is(err, audio.ErrUnreadable):
			return newError(KindAudioUnreadable, backend.Name(), err)
		default:
			return newError(KindUnknown, backend.Name(), err)
		}
	}
	job.Segments = segments

	d.logger().Info("job dispatched",
		zap.String("job", job.ID),
		zap.String("backend", backend.Name()),
		zap.Int("segments", len(segments)))

	job.State = StateTranscribing
	if err := d.transcribeAll(ctx, backend, job.Segments); err != nil {
		return err
	}

	job.State = StateStitching
	job.Transcript = stitch(job.Segments)
	return nil
}

// pool returns the worker pool for the backend. The pools are created
// once and shared across jobs, so total concurrent inference and remote
// calls stay capped no matter how many jobs run at the same time.
func (d *Dispatcher) pool(backend Backend) *semaphore.Weighted {
	d.poolOnce.Do(func() {
		d.localSem = semaphore.NewWeighted(int64(poolSize(d.LocalWorkers)))
		d.remoteSem = semaphore.NewWeighted(int64(poolSize(d.RemoteWorkers)))
	})
	if backend.Name() == "remote" {
		return d.remoteSem
	}
	return d.localSem
}

func poolSize(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// transcribeAll fans segments out to the backend's worker pool. The
// first hard failure cancels the remaining segments.
func (d *Dispatcher) transcribeAll(ctx context.Context, backend Backend, segments []audio.Segment) error {
	sem := d.pool(backend)
	g, ctx := errgroup.WithContext(ctx)

	for i := range segments {
		i := i
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			text, err := d.transcribeSegment(ctx, backend, &segments[i])
			if err != nil {
				return err
			}
			segments[i].Transcript = text
			d.meter().SegmentsTotal.WithLabelValues(backend.Name()).Inc()
			return nil
		})
	}

	return g.Wait()
}

// transcribeSegment retries transient failures with exponential backoff
// and gives up immediately on permanent ones.
func (d *Dispatcher) transcribeSegment(ctx context.Context, backend Backend, seg *audio.Segment) (string, error) {
	attempts := d.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var text string
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			d.meter().SegmentRetries.Inc()
			d.logger().Warn("retrying segment",
				zap.Int("segment", seg.Index),
				zap.Int("attempt", attempt),
				zap.String("backend", backend.Name()))
		}

		out, err := backend.Transcribe(ctx, seg.Path)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		text = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var te *Error
		if errors.As(err, &te) {
			return "", &Error{Kind: te.Kind, Backend: te.Backend, Segment: seg.Index, Err: te.Err}
		}
		return "", err
	}
	return text, nil
}

// stitch joins segment transcripts strictly by index. Empty segments
// (pure silence) vanish without extra whitespace.
func stitch(segments []audio.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
