package modules

import (
	"math"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/graph"
)

// LFOShape selects the low-frequency waveform.
type LFOShape int32

const (
	LFOTriangle LFOShape = iota
	LFOSaw
	LFOSquare
	LFOSine
)

// LFO emits a slow unipolar-or-bipolar CV. The phase re-zeroes on the
// transport reset pulse so every synced LFO in the patch re-aligns at loop
// boundaries.
type LFO struct {
	graph.Base

	rateBits  atomic.Uint64 // Hz
	depthBits atomic.Uint64
	shape     atomic.Int32
	bipolar   atomic.Bool

	phase float64 // audio thread only
}

func NewLFO() *LFO {
	l := &LFO{}
	l.Init("lfo", 0)
	l.SetRate(1)
	l.SetDepth(1)
	l.bipolar.Store(true)
	l.SetPins(nil, []graph.PinInfo{{Name: "cv out", Channel: 0, Type: graph.PinCV}})
	return l
}

func (l *LFO) SetRate(hz float64) {
	if hz < 0 {
		hz = 0
	} else if hz > 100 {
		hz = 100
	}
	l.rateBits.Store(math.Float64bits(hz))
}

func (l *LFO) SetDepth(depth float64) {
	if depth < 0 {
		depth = 0
	} else if depth > 1 {
		depth = 1
	}
	l.depthBits.Store(math.Float64bits(depth))
}

func (l *LFO) SetShape(s LFOShape) {
	if s < LFOTriangle || s > LFOSine {
		s = LFOTriangle
	}
	l.shape.Store(int32(s))
}

// SetBipolar switches between -depth..+depth and 0..depth output.
func (l *LFO) SetBipolar(on bool) { l.bipolar.Store(on) }

func (l *LFO) PrepareToPlay(sampleRate float64, maxBlockSize int) {
	l.Base.PrepareToPlay(sampleRate, maxBlockSize)
	l.phase = 0
}

func (l *LFO) ProcessBlock(_, out [][]float32, numSamples int) {
	dst := graph.Channel(out, 0)
	if dst == nil {
		return
	}
	if l.Transport().ResetPulse {
		l.phase = 0
	}
	rate := l.SampleRate()
	hz := math.Float64frombits(l.rateBits.Load())
	depth := math.Float64frombits(l.depthBits.Load())
	shape := LFOShape(l.shape.Load())
	bipolar := l.bipolar.Load()

	if rate <= 0 || hz <= 0 || depth == 0 {
		fill(dst, 0, numSamples)
		return
	}

	n := numSamples
	if n > len(dst) {
		n = len(dst)
	}
	phase := l.phase
	for i := 0; i < n; i++ {
		var v float64
		switch shape {
		case LFOSaw:
			v = 1 - 2*phase
		case LFOSquare:
			if phase < 0.5 {
				v = 1
			} else {
				v = -1
			}
		case LFOSine:
			v = math.Sin(2 * math.Pi * phase)
		default: // triangle
			if phase < 0.5 {
				v = 4*phase - 1
			} else {
				v = 3 - 4*phase
			}
		}
		if !bipolar {
			v = (v + 1) * 0.5
		}
		dst[i] = float32(v * depth)
		phase += hz / rate
		if phase >= 1 {
			phase -= math.Floor(phase)
		}
	}
	l.phase = phase
	for i := n; i < numSamples && i < len(dst); i++ {
		dst[i] = 0
	}
}
