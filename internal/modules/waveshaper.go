package modules

import (
	"math"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/graph"
)

// Waveshaper soft-clips a stereo signal with tanh shaping. Drive is a named
// parameter whose modulation input lives on channel 2; when a CV cable is
// attached there the knob value is ignored sample by sample. An optional
// one-pole lowpass tames the added harmonics.
type Waveshaper struct {
	graph.Base

	driveBits atomic.Uint32
	postBits  atomic.Uint32

	lpfAlpha float32
	lpfL     float32
	lpfR     float32
}

const (
	shaperInL     = 0
	shaperInR     = 1
	shaperDriveCV = 2

	maxDrive = 10.0
)

func NewWaveshaper() *Waveshaper {
	w := &Waveshaper{}
	w.Init("waveshaper", 3)
	w.SetDrive(1)
	w.SetPostGain(1)
	w.SetPins(
		[]graph.PinInfo{
			{Name: "in L", Channel: shaperInL, Type: graph.PinAudio},
			{Name: "in R", Channel: shaperInR, Type: graph.PinAudio},
			{Name: "drive", Channel: shaperDriveCV, Type: graph.PinCV},
		},
		[]graph.PinInfo{
			{Name: "out L", Channel: 0, Type: graph.PinAudio},
			{Name: "out R", Channel: 1, Type: graph.PinAudio},
		},
	)
	w.Params().Bind("drive", shaperDriveCV)
	return w
}

// SetDrive sets the input gain ahead of the shaper; higher is dirtier.
func (w *Waveshaper) SetDrive(drive float64) {
	if drive < 0 {
		drive = 0
	} else if drive > maxDrive {
		drive = maxDrive
	}
	w.driveBits.Store(math.Float32bits(float32(drive)))
}

func (w *Waveshaper) Drive() float64 {
	return float64(math.Float32frombits(w.driveBits.Load()))
}

func (w *Waveshaper) SetPostGain(gain float64) {
	if gain < 0 {
		gain = 0
	} else if gain > 2 {
		gain = 2
	}
	w.postBits.Store(math.Float32bits(float32(gain)))
}

// SetLowpassCutoff configures the post-shaper lowpass; 0 disables it.
// Takes effect at the next PrepareToPlay when the sample rate is not yet
// known.
func (w *Waveshaper) SetLowpassCutoff(cutoffHz float64) {
	rate := w.SampleRate()
	if cutoffHz <= 0 || rate <= 0 || cutoffHz >= rate/2 {
		w.lpfAlpha = 0
		return
	}
	rc := 1.0 / (2.0 * math.Pi * cutoffHz)
	dt := 1.0 / rate
	w.lpfAlpha = float32(dt / (rc + dt))
}

func (w *Waveshaper) PrepareToPlay(sampleRate float64, maxBlockSize int) {
	w.Base.PrepareToPlay(sampleRate, maxBlockSize)
	w.lpfL = 0
	w.lpfR = 0
}

func (w *Waveshaper) ProcessBlock(in, out [][]float32, numSamples int) {
	knob := math.Float32frombits(w.driveBits.Load())
	post := math.Float32frombits(w.postBits.Load())
	modulated := w.Params().Modulated("drive")
	cv := graph.Channel(in, shaperDriveCV)

	for ch := 0; ch < 2; ch++ {
		src := graph.Channel(in, ch)
		dst := graph.Channel(out, ch)
		if dst == nil {
			continue
		}
		if src == nil {
			fill(dst, 0, numSamples)
			continue
		}
		lpf := &w.lpfL
		if ch == 1 {
			lpf = &w.lpfR
		}
		n := numSamples
		if n > len(dst) {
			n = len(dst)
		}
		if n > len(src) {
			n = len(src)
		}
		state := *lpf
		for i := 0; i < n; i++ {
			drive := knob
			if modulated && cv != nil && i < len(cv) {
				drive = cv[i] * maxDrive
				if drive < 0 {
					drive = 0
				}
			}
			s := float32(math.Tanh(float64(src[i]*drive))) * post
			if w.lpfAlpha > 0 {
				state += w.lpfAlpha * (s - state)
				s = state
			}
			dst[i] = s
		}
		*lpf = state
		for i := n; i < numSamples && i < len(dst); i++ {
			dst[i] = 0
		}
	}
}
