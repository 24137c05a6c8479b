// Package store owns the on-disk lifecycle of a transcription job:
// a scoped temp directory for inbound audio and its segments, and the
// durable transcript artifacts. Temp state never survives a job.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrTooLarge is returned when an inbound stream exceeds the declared
// ingress ceiling.
var ErrTooLarge = errors.New("audio exceeds the maximum accepted size")

type Store struct {
	tempRoot      string
	transcriptDir string
	log           *zap.Logger
	now           func() time.Time
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

func New(tempRoot, transcriptDir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, dir := range []string{tempRoot, transcriptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &Store{tempRoot: tempRoot, transcriptDir: transcriptDir, log: log, now: time.Now}, nil
}

// JobDir returns the scoped temp directory for a job. Segment files are
// written here as well, so Cleanup removes every byte a job produced.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.tempRoot, jobID)
}

// Materialize streams inbound audio into the job's temp directory,
// enforcing maxBytes while copying. Writes go to a .part file first and
// are renamed once complete, so a crash never leaves a plausible-looking
// source file behind.
func (s *Store) Materialize(ctx context.Context, jobID string, src io.Reader, maxBytes int64, ext string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create job directory: %w", err)
	}

	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}

	dest := filepath.Join(dir, "source."+ext)
	partPath := dest + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(src, maxBytes+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(partPath)
		return "", 0, fmt.Errorf("write audio: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(partPath)
		return "", 0, fmt.Errorf("close temp file: %w", closeErr)
	case written > maxBytes:
		_ = os.Remove(partPath)
		return "", 0, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, maxBytes)
	case written == 0:
		_ = os.Remove(partPath)
		return "", 0, errors.New("audio stream is empty")
	}

	if err := os.Rename(partPath, dest); err != nil {
		_ = os.Remove(partPath)
		return "", 0, fmt.Errorf("finalize audio file: %w", err)
	}

	return dest, written, nil
}

// Cleanup removes the job's entire temp directory. Idempotent; safe to
// call on every terminal path, including cancellation.
func (s *Store) Cleanup(jobID string) {
	dir := s.JobDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("failed to remove job directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	s.log.Debug("job directory removed", zap.String("dir", dir))
}

// Sweep removes job directories older than the given age. Jobs in flight
// keep their directories fresh, so only abandoned state is collected.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		return 0, fmt.Errorf("read temp root: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.tempRoot, entry.Name())); err != nil {
			s.log.Warn("sweep failed for job directory", zap.String("job", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("swept stale job directories", zap.Int("removed", removed))
	}
	return removed, nil
}

// Caption is a timed slice of the transcript, used for the SRT sidecar.
type Caption struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// SaveTranscript writes the plain-text artifact, and an SRT sidecar when
// timed captions exist. Returns the text path and the SRT path (empty if
// no sidecar was written).
func (s *Store) SaveTranscript(userID int64, originalName, text string, captions []Caption) (string, string, error) {
	base := transcriptBaseName(originalName)
	stamp := s.now().UTC().Format("20060102_150405")
	prefix := fmt.Sprintf("%s_%d_%s", base, userID, stamp)

	txtPath := filepath.Join(s.transcriptDir, prefix+".txt")
	if err := writeFileAtomic(txtPath, []byte(text)); err != nil {
		return "", "", fmt.Errorf("write transcript: %w", err)
	}

	if len(captions) == 0 {
		return txtPath, "", nil
	}

	srtPath := filepath.Join(s.transcriptDir, prefix+".srt")
	if err := writeFileAtomic(srtPath, []byte(renderSRT(captions))); err != nil {
		return "", "", fmt.Errorf("write srt sidecar: %w", err)
	}
	return txtPath, srtPath, nil
}

func transcriptBaseName(originalName string) string {
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	base = unsafeNameChars.ReplaceAllString(strings.TrimSpace(base), "_")
	if base == "" {
		base = "transcription"
	}
	if len(base) > 200 {
		base = base[:200]
	}
	return base
}

func writeFileAtomic(path string, data []byte) error {
	partPath := path + ".part"
	if err := os.WriteFile(partPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(partPath, path); err != nil {
		_ = os.Remove(partPath)
		return err
	}
	return nil
}

func renderSRT(captions []Caption) string {
	var b strings.Builder
	for i, c := range captions {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(c.Start), srtTimestamp(c.End))
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

func srtTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, sec, ms)
}
