// Package audio probes WAV sources and splits oversized audio into
// backend-sized segments with silence-aware cut points.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrUnreadable marks sources that cannot be decoded.
	ErrUnreadable = errors.New("audio unreadable")
	// ErrTooLarge marks sources that would exceed the segment budget.
	ErrTooLarge = errors.New("file too large to process")
)

// Info describes the PCM layout of a WAV source.
type Info struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	FrameSize   int // bytes per frame across all channels
	ByteRate    int // PCM payload bytes per second
	DataBytes   int64
	TotalFrames int64
	Duration    time.Duration
}

// Probe reads the WAV header and data-chunk size without decoding
// samples. Zero-duration and malformed sources fail with ErrUnreadable.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return Info{}, fmt.Errorf("%w: not a valid wav file", ErrUnreadable)
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	info := Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		DataBytes:  d.PCMLen(),
	}
	if info.SampleRate <= 0 || info.Channels <= 0 || info.BitDepth <= 0 {
		return Info{}, fmt.Errorf("%w: degenerate wav format", ErrUnreadable)
	}

	info.FrameSize = info.Channels * info.BitDepth / 8
	if info.FrameSize <= 0 {
		return Info{}, fmt.Errorf("%w: unsupported bit depth %d", ErrUnreadable, info.BitDepth)
	}
	info.ByteRate = info.SampleRate * info.FrameSize
	info.TotalFrames = info.DataBytes / int64(info.FrameSize)
	info.Duration = time.Duration(info.TotalFrames) * time.Second / time.Duration(info.SampleRate)

	if info.TotalFrames == 0 {
		return Info{}, fmt.Errorf("%w: zero-duration audio", ErrUnreadable)
	}

	return info, nil
}

// IsWAV reports whether the path looks like a WAV file by extension.
func IsWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}
