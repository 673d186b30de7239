// Package modules holds the built-in audio/CV modules that ship with the
// patch engine. They are deliberately small: the point is the processor
// contract, not DSP depth.
package modules

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/graph"
	"github.com/Cignor/Collider-sub008/internal/midicv"
)

// middleCHz is the frequency at 0 V pitch CV (1 V/octave, MIDI 60).
const middleCHz = 261.6255653005986

// Waveform selects the oscillator shape.
type Waveform int32

const (
	WaveSine Waveform = iota
	WaveSaw
	WaveSquare
)

// PolyOsc renders one oscillator per MIDI-CV voice and mixes them to a
// stereo pair. Input layout matches the MIDI-CV module's per-voice triples
// (gate, pitch, velocity), so the two modules patch together channel for
// channel.
type PolyOsc struct {
	graph.Base

	waveform atomic.Int32
	gainBits atomic.Uint32

	phases [midicv.NumVoices]float64
	// per-voice amplitude smoothers, audio thread only
	amps [midicv.NumVoices]float64
}

const (
	oscChansPerVoice = 3
	oscGate          = 0
	oscPitch         = 1
	oscVelocity      = 2

	// ~1 ms amplitude glide at 48 kHz keeps gate edges from clicking.
	ampCoeff = 0.02
)

func NewPolyOsc() *PolyOsc {
	o := &PolyOsc{}
	o.Init("poly_osc", midicv.NumVoices*oscChansPerVoice)
	o.SetGain(0.5)
	ins := make([]graph.PinInfo, 0, midicv.NumVoices*oscChansPerVoice)
	for v := 0; v < midicv.NumVoices; v++ {
		base := v * oscChansPerVoice
		ins = append(ins,
			graph.PinInfo{Name: fmt.Sprintf("gate %d", v+1), Channel: base + oscGate, Type: graph.PinGate},
			graph.PinInfo{Name: fmt.Sprintf("pitch %d", v+1), Channel: base + oscPitch, Type: graph.PinCV},
			graph.PinInfo{Name: fmt.Sprintf("velocity %d", v+1), Channel: base + oscVelocity, Type: graph.PinCV},
		)
	}
	outs := []graph.PinInfo{
		{Name: "out L", Channel: 0, Type: graph.PinAudio},
		{Name: "out R", Channel: 1, Type: graph.PinAudio},
	}
	o.SetPins(ins, outs)
	return o
}

func (o *PolyOsc) SetWaveform(w Waveform) {
	if w < WaveSine || w > WaveSquare {
		w = WaveSine
	}
	o.waveform.Store(int32(w))
}

func (o *PolyOsc) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	} else if gain > 1 {
		gain = 1
	}
	o.gainBits.Store(math.Float32bits(float32(gain)))
}

func (o *PolyOsc) Gain() float64 {
	return float64(math.Float32frombits(o.gainBits.Load()))
}

func (o *PolyOsc) PrepareToPlay(sampleRate float64, maxBlockSize int) {
	o.Base.PrepareToPlay(sampleRate, maxBlockSize)
	for v := range o.phases {
		o.phases[v] = 0
		o.amps[v] = 0
	}
}

func (o *PolyOsc) ProcessBlock(in, out [][]float32, numSamples int) {
	left := graph.Channel(out, 0)
	right := graph.Channel(out, 1)
	fill(left, 0, numSamples)
	fill(right, 0, numSamples)
	if left == nil {
		return
	}
	rate := o.SampleRate()
	if rate <= 0 {
		return
	}

	wave := Waveform(o.waveform.Load())
	gain := float64(math.Float32frombits(o.gainBits.Load()))

	n := numSamples
	if n > len(left) {
		n = len(left)
	}
	for v := 0; v < midicv.NumVoices; v++ {
		base := v * oscChansPerVoice
		gate := graph.Channel(in, base+oscGate)
		pitch := graph.Channel(in, base+oscPitch)
		vel := graph.Channel(in, base+oscVelocity)
		if gate == nil && o.amps[v] == 0 {
			continue
		}
		phase := o.phases[v]
		amp := o.amps[v]
		for i := 0; i < n; i++ {
			target := 0.0
			if gate != nil && i < len(gate) && gate[i] > 0.5 {
				target = 1.0
				if vel != nil && i < len(vel) {
					target = float64(vel[i])
				}
			}
			amp += ampCoeff * (target - amp)

			cv := 0.0
			if pitch != nil && i < len(pitch) {
				cv = float64(pitch[i])
			}
			freq := middleCHz * math.Exp2(cv)
			phase += freq / rate
			if phase >= 1 {
				phase -= math.Floor(phase)
			}

			var s float64
			switch wave {
			case WaveSaw:
				s = 1 - 2*phase
			case WaveSquare:
				if phase < 0.5 {
					s = 1
				} else {
					s = -1
				}
			default:
				s = math.Sin(2 * math.Pi * phase)
			}
			left[i] += float32(s * amp * gain)
		}
		o.phases[v] = phase
		o.amps[v] = amp
	}
	if right != nil {
		graph.CopyChannel(right, left, n)
	}
}

func fill(dst []float32, value float32, numSamples int) {
	if dst == nil {
		return
	}
	n := numSamples
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = value
	}
}
