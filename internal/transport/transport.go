// Package transport carries the shared musical clock into module processors.
package transport

import (
	"math"
	"sync/atomic"
)

// State is a per-block snapshot of the global transport. Processors must
// treat it as immutable for the duration of one block. ResetPulse is an
// edge: each consumer latches it independently, the source never clears it
// mid-block.
type State struct {
	Playing       bool
	BPM           float64
	PositionBeats float64
	ResetPulse    bool
}

// SamplesPerBeat returns the number of samples one beat spans at the given
// sample rate. BPM values at or below zero fall back to 120.
func (s State) SamplesPerBeat(sampleRate float64) float64 {
	bpm := s.BPM
	if bpm <= 0 {
		bpm = 120
	}
	return (60.0 / bpm) * sampleRate
}

// BeatsPerSample is the per-sample beat increment at the given sample rate.
func (s State) BeatsPerSample(sampleRate float64) float64 {
	spb := s.SamplesPerBeat(sampleRate)
	if spb <= 0 {
		return 0
	}
	return 1.0 / spb
}

// Clock is the control-side owner of the transport. The audio callback takes
// one Snapshot per block and advances the clock afterwards; UI and MIDI
// goroutines mutate it through the setters. All fields are atomics so no
// caller can stall the audio thread.
type Clock struct {
	playing       atomic.Bool
	bpmBits       atomic.Uint64
	positionBits  atomic.Uint64
	resetRequests atomic.Uint32
	sampleClock   atomic.Int64
}

// NewClock returns a stopped clock at the given tempo, positioned at beat 0.
func NewClock(bpm float64) *Clock {
	c := &Clock{}
	c.SetBPM(bpm)
	return c
}

func (c *Clock) SetPlaying(playing bool) { c.playing.Store(playing) }

func (c *Clock) Playing() bool { return c.playing.Load() }

func (c *Clock) SetBPM(bpm float64) {
	if bpm <= 0 {
		bpm = 120
	}
	c.bpmBits.Store(floatBits(bpm))
}

func (c *Clock) BPM() float64 { return bitsFloat(c.bpmBits.Load()) }

// Seek moves the song position and requests a reset pulse so position-hinted
// consumers drop their monotonic-advance assumption.
func (c *Clock) Seek(beats float64) {
	if beats < 0 {
		beats = 0
	}
	c.positionBits.Store(floatBits(beats))
	c.RequestReset()
}

func (c *Clock) PositionBeats() float64 { return bitsFloat(c.positionBits.Load()) }

// RequestReset arms the one-shot reset pulse delivered with the next snapshot.
func (c *Clock) RequestReset() { c.resetRequests.Add(1) }

// SampleClock is the monotonic sample counter used for voice-age stamps.
func (c *Clock) SampleClock() int64 { return c.sampleClock.Load() }

// Snapshot captures the transport for one block and consumes any pending
// reset request.
func (c *Clock) Snapshot() State {
	reset := c.resetRequests.Swap(0) > 0
	return State{
		Playing:       c.playing.Load(),
		BPM:           c.BPM(),
		PositionBeats: c.PositionBeats(),
		ResetPulse:    reset,
	}
}

// Advance moves the song position forward by numSamples at the given sample
// rate. Called by the audio thread after rendering a block; position only
// advances while playing. The sample clock always advances so voice-age
// stamps stay strictly ordered even when the transport is stopped.
func (c *Clock) Advance(numSamples int, sampleRate float64) {
	c.sampleClock.Add(int64(numSamples))
	if !c.playing.Load() || sampleRate <= 0 {
		return
	}
	snap := State{BPM: c.BPM()}
	pos := c.PositionBeats() + float64(numSamples)*snap.BeatsPerSample(sampleRate)
	c.positionBits.Store(floatBits(pos))
}

func floatBits(f float64) uint64 { return math.Float64bits(f) }

func bitsFloat(b uint64) float64 { return math.Float64frombits(b) }
