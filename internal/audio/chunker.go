package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

// DefaultTolerance bounds how far a cut point may move to find silence.
const DefaultTolerance = 2 * time.Second

// wavHeaderSlack is reserved out of the snap budget so a boundary moved
// toward silence never pushes a segment past the backend's ceiling.
const wavHeaderSlack = 1024

// Limits describes the active backend's per-call constraints. Zero
// values mean unbounded.
type Limits struct {
	MaxBytes    int64
	MaxDuration time.Duration
	MaxSegments int
	Tolerance   time.Duration
}

// Segment is one time-ordered slice of a source file. Index defines the
// stitch order; Start/End are positions on the source timeline.
type Segment struct {
	Index      int
	Start      time.Duration
	End        time.Duration
	Bytes      int64
	Path       string
	Transcript string
}

type Chunker struct {
	log *zap.Logger
}

func NewChunker(log *zap.Logger) *Chunker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chunker{log: log}
}

// Split returns ordered segment descriptors for the source at path. A
// source already within the limits yields exactly one segment pointing
// at the original file. Oversized sources must be PCM WAV; they are cut
// into contiguous segment files written next to the source, with each
// boundary snapped to nearby silence when the scan allows it.
func (c *Chunker) Split(path string, lim Limits) ([]Segment, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}

	info, probeErr := Probe(path)

	fitsBytes := lim.MaxBytes <= 0 || fi.Size() <= lim.MaxBytes
	fitsDuration := lim.MaxDuration <= 0 || probeErr != nil || info.Duration <= lim.MaxDuration
	if fitsBytes && fitsDuration {
		if probeErr != nil && IsWAV(path) {
			return nil, probeErr
		}
		seg := Segment{Index: 0, Path: path, Bytes: fi.Size()}
		if probeErr == nil {
			seg.End = info.Duration
		}
		return []Segment{seg}, nil
	}

	// Splitting requires decoding, so non-PCM sources that exceed the
	// limit are a hard failure: this pipeline does not transcode.
	if probeErr != nil {
		return nil, probeErr
	}

	targetFrames, tolFrames, numSegments := segmentPlan(info, lim)
	if targetFrames <= 0 {
		return nil, fmt.Errorf("%w: payload limit too small for even one audio frame", ErrTooLarge)
	}
	if lim.MaxSegments > 0 && numSegments > int64(lim.MaxSegments) {
		return nil, fmt.Errorf("%w: would require %d segments, limit is %d", ErrTooLarge, numSegments, lim.MaxSegments)
	}

	energies, err := windowEnergies(path, info)
	if err != nil {
		c.log.Warn("silence scan failed; falling back to hard cut points", zap.Error(err))
		energies = nil
	}

	boundaries := make([]int64, 0, numSegments-1)
	prev := int64(0)
	for k := int64(1); k < numSegments; k++ {
		hard := k * targetFrames
		snapped := snapToQuietestFrame(energies, info, hard, tolFrames)
		if snapped <= prev {
			snapped = hard
		}
		if snapped <= prev || snapped >= info.TotalFrames {
			continue
		}
		boundaries = append(boundaries, snapped)
		prev = snapped
	}

	segments, err := c.writeSegments(path, info, boundaries)
	if err != nil {
		return nil, err
	}

	c.log.Debug("audio split into segments",
		zap.String("source", filepath.Base(path)),
		zap.Int("segments", len(segments)),
		zap.Int64("target_frames", targetFrames))
	return segments, nil
}

// segmentPlan derives the segment count from the hard per-segment frame
// ceiling (MaxBytes of payload), balances frames evenly across segments,
// and grants the snap tolerance only out of the leftover slack below a
// header-reserved ceiling. A boundary moved by up to ±tol therefore can
// never push a segment past the ceiling; a source that divides exactly
// gets hard cuts and no extra segment.
func segmentPlan(info Info, lim Limits) (target, tol, count int64) {
	raw := int64(0)
	if lim.MaxBytes > 0 {
		raw = lim.MaxBytes / int64(info.FrameSize)
	}
	if lim.MaxDuration > 0 {
		byDuration := int64(lim.MaxDuration.Seconds() * float64(info.SampleRate))
		if raw == 0 || byDuration < raw {
			raw = byDuration
		}
	}
	if raw <= 0 {
		return 0, 0, 0
	}

	count = (info.TotalFrames + raw - 1) / raw
	target = (info.TotalFrames + count - 1) / count

	// Snapping grows segments, so the tolerance is paid for out of the
	// slack below a ceiling that also reserves room for header bytes.
	slackFrames := (wavHeaderSlack + int64(info.FrameSize) - 1) / int64(info.FrameSize)
	snapCeil := raw - slackFrames

	tolerance := lim.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	tol = int64(tolerance.Seconds() * float64(info.SampleRate))
	if slack := (snapCeil - target) / 2; tol > slack {
		tol = slack
	}
	if max := target / 4; tol > max {
		tol = max
	}
	if tol < 0 {
		tol = 0
	}
	return target, tol, count
}

func (c *Chunker) writeSegments(srcPath string, info Info, boundaries []int64) ([]Segment, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrUnreadable)
	}

	cuts := make([]int64, 0, len(boundaries)+2)
	cuts = append(cuts, 0)
	cuts = append(cuts, boundaries...)
	cuts = append(cuts, info.TotalFrames)

	dir := filepath.Dir(srcPath)
	segments := make([]Segment, 0, len(cuts)-1)

	success := false
	defer func() {
		if !success {
			for _, s := range segments {
				_ = os.Remove(s.Path)
			}
		}
	}()

	var (
		segIdx int
		out    *os.File
		enc    *wav.Encoder
		cursor int64
	)

	frameDur := func(frames int64) time.Duration {
		return time.Duration(frames) * time.Second / time.Duration(info.SampleRate)
	}

	openSegment := func() error {
		segPath := filepath.Join(dir, fmt.Sprintf("segment_%03d.wav", segIdx))
		out, err = os.Create(segPath)
		if err != nil {
			return fmt.Errorf("create segment file: %w", err)
		}
		enc = wav.NewEncoder(out, info.SampleRate, info.BitDepth, info.Channels, 1)
		segments = append(segments, Segment{Index: segIdx, Path: segPath, Start: frameDur(cuts[segIdx])})
		return nil
	}

	closeSegment := func() error {
		if enc == nil {
			return nil
		}
		if err := enc.Close(); err != nil {
			_ = out.Close()
			return fmt.Errorf("finalize segment %d: %w", segIdx, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close segment %d: %w", segIdx, err)
		}
		seg := &segments[segIdx]
		seg.End = frameDur(cursor)
		seg.Bytes = (cursor - cuts[segIdx]) * int64(info.FrameSize)
		enc = nil
		out = nil
		return nil
	}

	if err := openSegment(); err != nil {
		return nil, err
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate},
		Data:   make([]int, 32*1024*info.Channels),
	}

	for {
		n, readErr := d.PCMBuffer(buf)
		if n == 0 {
			break
		}

		frames := n / info.Channels
		processed := 0
		for processed < frames {
			nextCut := cuts[segIdx+1]
			take := int64(frames - processed)
			if remain := nextCut - cursor; take > remain {
				take = remain
			}

			if take > 0 {
				chunk := &goaudio.IntBuffer{
					Format:         buf.Format,
					SourceBitDepth: buf.SourceBitDepth,
					Data:           buf.Data[processed*info.Channels : (processed+int(take))*info.Channels],
				}
				if err := enc.Write(chunk); err != nil {
					return nil, fmt.Errorf("write segment %d: %w", segIdx, err)
				}
				cursor += take
				processed += int(take)
			}

			if cursor == cuts[segIdx+1] && segIdx < len(cuts)-2 {
				if err := closeSegment(); err != nil {
					return nil, err
				}
				segIdx++
				if err := openSegment(); err != nil {
					return nil, err
				}
			}
		}

		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, readErr)
		}
	}

	if err := closeSegment(); err != nil {
		return nil, err
	}

	success = true
	return segments, nil
}
