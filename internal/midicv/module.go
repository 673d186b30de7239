package midicv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/graph"
)

// Output bus layout: three channels per voice, then three global controller
// CVs. 8×3 + 3 = 27 channels.
const (
	chansPerVoice  = 3
	gateOffset     = 0
	pitchOffset    = 1
	velocityOffset = 2

	ChanModWheel   = NumVoices*chansPerVoice + 0
	ChanPitchBend  = NumVoices*chansPerVoice + 1
	ChanAftertouch = NumVoices*chansPerVoice + 2

	NumOutputChannels = NumVoices*chansPerVoice + 3
)

// OmniChannel accepts note input on any MIDI channel.
const OmniChannel = -1

// controller CV smoothing time constant, per sample at 48 kHz scale.
const smoothCoeff = 0.0015

// Module is the MIDI-to-CV converter. Note and controller entry points run
// on MIDI/UI goroutines and mutate the pool under one mutex; the audio
// thread takes a value snapshot of the pool once per block and renders from
// the copy, so the lock is never held across the per-sample loop.
type Module struct {
	graph.Base

	mu    sync.Mutex
	pool  allocator
	wheel float32 // targets, written under mu
	bend  float32
	touch float32

	channelFilter int

	// smoothed controller state, audio thread only
	wheelOut float32
	bendOut  float32
	touchOut float32

	sampleClock  atomic.Int64
	activeVoices atomic.Int32
}

func New() *Module {
	m := &Module{channelFilter: OmniChannel}
	m.Init("midi_cv", 0)
	m.pool.reset()
	m.Base.SetPins(nil, outputPins())
	return m
}

func outputPins() []graph.PinInfo {
	pins := make([]graph.PinInfo, 0, NumOutputChannels)
	for v := 0; v < NumVoices; v++ {
		base := v * chansPerVoice
		pins = append(pins,
			graph.PinInfo{Name: fmt.Sprintf("gate %d", v+1), Channel: base + gateOffset, Type: graph.PinGate},
			graph.PinInfo{Name: fmt.Sprintf("pitch %d", v+1), Channel: base + pitchOffset, Type: graph.PinCV},
			graph.PinInfo{Name: fmt.Sprintf("velocity %d", v+1), Channel: base + velocityOffset, Type: graph.PinCV},
		)
	}
	pins = append(pins,
		graph.PinInfo{Name: "mod wheel", Channel: ChanModWheel, Type: graph.PinCV},
		graph.PinInfo{Name: "pitch bend", Channel: ChanPitchBend, Type: graph.PinCV},
		graph.PinInfo{Name: "aftertouch", Channel: ChanAftertouch, Type: graph.PinCV},
	)
	return pins
}

func (m *Module) PrepareToPlay(sampleRate float64, maxBlockSize int) {
	m.Base.PrepareToPlay(sampleRate, maxBlockSize)
	m.mu.Lock()
	m.pool.reset()
	m.wheel, m.bend, m.touch = 0, 0, 0
	m.mu.Unlock()
	m.wheelOut, m.bendOut, m.touchOut = 0, 0, 0
	m.activeVoices.Store(0)
}

// SetChannelFilter restricts note input to one MIDI channel (0-15), or
// OmniChannel for all. Device filtering happens upstream.
func (m *Module) SetChannelFilter(channel int) {
	m.mu.Lock()
	if channel < 0 || channel > 15 {
		channel = OmniChannel
	}
	m.channelFilter = channel
	m.mu.Unlock()
}

// NoteOn allocates a voice for the note. Velocity is normalized 0..1.
func (m *Module) NoteOn(channel, note int, velocity float32) {
	if note < 0 || note > 127 {
		return
	}
	if velocity < 0 {
		velocity = 0
	} else if velocity > 1 {
		velocity = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelFilter != OmniChannel && channel != m.channelFilter {
		return
	}
	m.pool.allocate(note, channel, velocity, m.sampleClock.Load())
	m.activeVoices.Store(int32(m.pool.activeCount()))
}

// NoteOff releases the voice holding the note, if it still does.
func (m *Module) NoteOff(channel, note int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelFilter != OmniChannel && channel != m.channelFilter {
		return
	}
	if idx := m.pool.findVoiceForNote(note); idx >= 0 {
		m.pool.release(idx, note)
	}
	m.activeVoices.Store(int32(m.pool.activeCount()))
}

// SetModWheel sets the mod-wheel CV target, normalized 0..1.
func (m *Module) SetModWheel(value float32) { m.setTarget(&m.wheel, clampUnit(value)) }

// SetPitchBend sets the bend CV target, normalized -1..1.
func (m *Module) SetPitchBend(value float32) {
	if value < -1 {
		value = -1
	} else if value > 1 {
		value = 1
	}
	m.setTarget(&m.bend, value)
}

// SetAftertouch sets the channel-pressure CV target, normalized 0..1.
func (m *Module) SetAftertouch(value float32) { m.setTarget(&m.touch, clampUnit(value)) }

func (m *Module) setTarget(dst *float32, value float32) {
	m.mu.Lock()
	*dst = value
	m.mu.Unlock()
}

// VoicesSnapshot returns a value copy of the pool for UI display.
func (m *Module) VoicesSnapshot() [NumVoices]Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.voices
}

// ActiveVoices is lock-free telemetry for meters.
func (m *Module) ActiveVoices() int { return int(m.activeVoices.Load()) }

func (m *Module) ProcessBlock(_, out [][]float32, numSamples int) {
	m.mu.Lock()
	voices := m.pool.voices
	wheel, bend, touch := m.wheel, m.bend, m.touch
	m.mu.Unlock()

	m.sampleClock.Add(int64(numSamples))

	for v := 0; v < NumVoices; v++ {
		base := v * chansPerVoice
		gate := graph.Channel(out, base+gateOffset)
		pitch := graph.Channel(out, base+pitchOffset)
		vel := graph.Channel(out, base+velocityOffset)

		var gateVal, pitchVal, velVal float32
		if voices[v].Active {
			gateVal = 1
			pitchVal = NoteToCV(voices[v].Note)
			velVal = voices[v].Velocity
		}
		fillChannel(gate, gateVal, numSamples)
		fillChannel(pitch, pitchVal, numSamples)
		fillChannel(vel, velVal, numSamples)
	}

	smoothChannel(graph.Channel(out, ChanModWheel), &m.wheelOut, wheel, numSamples)
	smoothChannel(graph.Channel(out, ChanPitchBend), &m.bendOut, bend, numSamples)
	smoothChannel(graph.Channel(out, ChanAftertouch), &m.touchOut, touch, numSamples)
}

func fillChannel(ch []float32, value float32, numSamples int) {
	if ch == nil {
		return
	}
	n := numSamples
	if n > len(ch) {
		n = len(ch)
	}
	for i := 0; i < n; i++ {
		ch[i] = value
	}
}

// smoothChannel writes a one-pole glide from *state toward target so
// controller jumps do not step the CV.
func smoothChannel(ch []float32, state *float32, target float32, numSamples int) {
	if ch == nil {
		// Still advance the smoother so reconnecting a cable does not
		// replay a stale ramp.
		s := *state
		for i := 0; i < numSamples; i++ {
			s += smoothCoeff * (target - s)
		}
		*state = s
		return
	}
	n := numSamples
	if n > len(ch) {
		n = len(ch)
	}
	s := *state
	for i := 0; i < n; i++ {
		s += smoothCoeff * (target - s)
		ch[i] = s
	}
	*state = s
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
