package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// energyWindow is the granularity of the silence scan. 20ms windows are
// fine enough to land between words without blowing up memory for long
// recordings.
const energyWindowDur = 50 // windows per second (20ms each)

// windowEnergies scans the whole file once and returns the RMS amplitude
// (normalized to [0,1]) of each consecutive 20ms window.
func windowEnergies(path string, info Info) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio for silence scan: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrUnreadable)
	}

	windowFrames := info.SampleRate / energyWindowDur
	if windowFrames <= 0 {
		windowFrames = 1
	}
	fullScale := math.Pow(2, float64(info.BitDepth-1))

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate},
		Data:   make([]int, 32*1024*info.Channels),
	}

	energies := make([]float64, 0, info.TotalFrames/int64(windowFrames)+1)
	var sumSquares float64
	var framesInWindow int

	for {
		n, err := d.PCMBuffer(buf)
		if n == 0 {
			break
		}

		for frameStart := 0; frameStart+info.Channels <= n; frameStart += info.Channels {
			var frame float64
			for ch := 0; ch < info.Channels; ch++ {
				frame += float64(buf.Data[frameStart+ch]) / fullScale
			}
			frame /= float64(info.Channels)
			sumSquares += frame * frame
			framesInWindow++

			if framesInWindow == windowFrames {
				energies = append(energies, math.Sqrt(sumSquares/float64(framesInWindow)))
				sumSquares = 0
				framesInWindow = 0
			}
		}

		if err != nil {
			return nil, fmt.Errorf("decode pcm for silence scan: %w", err)
		}
	}

	if framesInWindow > 0 {
		energies = append(energies, math.Sqrt(sumSquares/float64(framesInWindow)))
	}
	return energies, nil
}

// snapToQuietestFrame moves a hard cut at hardFrame to the center of the
// quietest 20ms window within ±tolFrames. With no usable energy data the
// hard cut stands; snapping is a quality heuristic, not a requirement.
func snapToQuietestFrame(energies []float64, info Info, hardFrame, tolFrames int64) int64 {
	if len(energies) == 0 || tolFrames <= 0 {
		return hardFrame
	}

	windowFrames := int64(info.SampleRate / energyWindowDur)
	if windowFrames <= 0 {
		return hardFrame
	}

	lo := (hardFrame - tolFrames) / windowFrames
	hi := (hardFrame + tolFrames) / windowFrames
	if lo < 0 {
		lo = 0
	}
	if hi >= int64(len(energies)) {
		hi = int64(len(energies)) - 1
	}
	if lo > hi {
		return hardFrame
	}

	best := lo
	for w := lo + 1; w <= hi; w++ {
		if energies[w] < energies[best] {
			best = w
		}
	}

	snapped := best*windowFrames + windowFrames/2
	if snapped <= 0 || snapped >= info.TotalFrames {
		return hardFrame
	}
	return snapped
}
