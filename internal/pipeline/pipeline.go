// Package pipeline glues admission, storage, dispatch, and transcript
// persistence into the end-to-end flow a single request goes through.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndenisov/scribeflow/internal/config"
	"github.com/ndenisov/scribeflow/internal/metrics"
	"github.com/ndenisov/scribeflow/internal/quota"
	"github.com/ndenisov/scribeflow/internal/store"
	"github.com/ndenisov/scribeflow/internal/transcribe"
)

// tempRetention is how long abandoned job directories survive before
// the sweeper collects them.
const tempRetention = 24 * time.Hour

// Runner drives one job to completion. Satisfied by
// *transcribe.Dispatcher.
type Runner interface {
	Run(ctx context.Context, job *transcribe.Job) error
}

type Request struct {
	UserID       int64
	OriginalName string
	Source       io.Reader
}

type Outcome struct {
	JobID          string
	Backend        string
	Segments       int
	Transcript     string
	Preview        string
	Truncated      bool
	TranscriptPath string
	CaptionsPath   string
}

type Pipeline struct {
	cfg        *config.Config
	quota      *quota.Tracker
	store      *store.Store
	dispatcher Runner
	log        *zap.Logger
	metrics    *metrics.Metrics
}

func New(cfg *config.Config, tracker *quota.Tracker, st *store.Store, dispatcher Runner, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		quota:      tracker,
		store:      st,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
	}
}

// Process runs one transcription request end to end. Quota is reserved
// before any byte is accepted, so denied requests cost nothing; every
// other path, success or failure, cleans its temp state on the way out.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Outcome, error) {
	if err := p.quota.CheckAndReserve(ctx, req.UserID, p.cfg.DailyLimit); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			p.metrics.QuotaDenied.Inc()
		}
		p.metrics.JobsTotal.WithLabelValues("denied").Inc()
		return nil, err
	}

	start := time.Now()
	jobID := uuid.NewString()
	defer p.store.Cleanup(jobID)

	srcPath, size, err := p.store.Materialize(ctx, jobID, req.Source, p.cfg.MaxFileBytes, sourceExt(req.OriginalName))
	if err != nil {
		p.metrics.JobsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("accept audio: %w", err)
	}
	p.metrics.BytesTranscoded.Add(float64(size))

	job := &transcribe.Job{
		ID:           jobID,
		UserID:       req.UserID,
		OriginalName: req.OriginalName,
		SourcePath:   srcPath,
		SourceBytes:  size,
		State:        transcribe.StateAdmitted,
	}

	if err := p.dispatcher.Run(ctx, job); err != nil {
		p.metrics.JobsTotal.WithLabelValues("failed").Inc()
		p.log.Error("transcription job failed",
			zap.String("job", jobID),
			zap.Int64("user_id", req.UserID),
			zap.Error(err))
		return nil, err
	}

	txtPath, srtPath, err := p.store.SaveTranscript(req.UserID, req.OriginalName, job.Transcript, captionsFor(job))
	if err != nil {
		p.metrics.JobsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	p.metrics.JobsTotal.WithLabelValues("completed").Inc()
	p.metrics.JobDuration.Observe(time.Since(start).Seconds())
	p.log.Info("transcription job completed",
		zap.String("job", jobID),
		zap.Int64("user_id", req.UserID),
		zap.String("backend", job.Backend),
		zap.Int("segments", len(job.Segments)),
		zap.Duration("took", time.Since(start)))

	preview, truncated := TruncatePreview(job.Transcript, p.cfg.PreviewLimit)
	return &Outcome{
		JobID:          jobID,
		Backend:        job.Backend,
		Segments:       len(job.Segments),
		Transcript:     job.Transcript,
		Preview:        preview,
		Truncated:      truncated,
		TranscriptPath: txtPath,
		CaptionsPath:   srtPath,
	}, nil
}

// QuotaStatus reports the user's remaining budget for today.
func (p *Pipeline) QuotaStatus(ctx context.Context, userID int64) (quota.Status, error) {
	return p.quota.Status(ctx, userID, p.cfg.DailyLimit)
}

// Sweep collects job directories abandoned by crashed runs.
func (p *Pipeline) Sweep() (int, error) {
	return p.store.Sweep(tempRetention)
}

// captionsFor builds timed captions from a multi-segment job. A single
// segment has no meaningful timing, so no sidecar is produced.
func captionsFor(job *transcribe.Job) []store.Caption {
	if len(job.Segments) < 2 {
		return nil
	}
	captions := make([]store.Caption, 0, len(job.Segments))
	for _, seg := range job.Segments {
		text := strings.TrimSpace(seg.Transcript)
		if text == "" {
			continue
		}
		captions = append(captions, store.Caption{
			Index: seg.Index,
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
	}
	return captions
}

// TruncatePreview caps the inline reply at limit runes, marking the cut
// with an ellipsis. The full transcript always lands on disk untouched.
func TruncatePreview(text string, limit int) (string, bool) {
	if limit <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit-1]) + "…", true
}

func sourceExt(originalName string) string {
	ext := strings.TrimPrefix(filepath.Ext(originalName), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}
