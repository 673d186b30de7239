// Package graph defines the module-processor contract the patch host uses to
// treat every audio/CV module polymorphically: lifecycle, per-block
// processing, dynamic pin negotiation, parameter-modulation routing, and
// extra-state serialization.
package graph

import (
	"sync"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/statetree"
	"github.com/Cignor/Collider-sub008/internal/transport"
)

// Processor is implemented by every module in a patch.
//
// ProcessBlock is the real-time entry point and must obey the audio-thread
// rules: no heap allocation, no unbounded locking, no panics escaping, and
// every declared output channel fully written for numSamples (silence when
// inputs or state are invalid) — the host does not zero buffers between
// modules. SetTransport is called by the host immediately before each
// ProcessBlock with that block's transport snapshot.
//
// Pin sets may change at runtime. Implementations bump their pin version on
// any structural change; the host re-polls InputPins/OutputPins when the
// version moves and invalidates cables whose channels disappeared.
type Processor interface {
	TypeName() string

	PrepareToPlay(sampleRate float64, maxBlockSize int)
	ReleaseResources()

	SetTransport(state transport.State)
	ProcessBlock(in, out [][]float32, numSamples int)

	InputPins() []PinInfo
	OutputPins() []PinInfo
	PinVersion() uint64

	// Params exposes modulation routing for this module's named parameters.
	// Never nil.
	Params() *ParameterBus

	// ExtraState serializes state beyond plain parameters (recorded
	// automation, voice setup). May return nil when there is none.
	// SetExtraState must tolerate nil and malformed trees by defaulting.
	ExtraState() *statetree.Node
	SetExtraState(node *statetree.Node)
}

// Base carries the pieces of the Processor contract that every module shares:
// the type name, prepared sample rate and block size, the pin sets with their
// version counter, the parameter bus, and the per-block transport latch.
// Concrete modules embed it and override what they need.
type Base struct {
	typeName string

	sampleRate   float64
	maxBlockSize int

	pinsMu     sync.Mutex
	inputPins  []PinInfo
	outputPins []PinInfo
	pinVersion atomic.Uint64

	params *ParameterBus

	// Written by the host just before ProcessBlock, read only on the audio
	// thread during the block.
	transportState transport.State
}

// Init sets up the shared processor core; Base holds a mutex so it is
// initialized in place rather than returned by value. numInputChannels sizes
// the parameter bus's connection tracking.
func (b *Base) Init(typeName string, numInputChannels int) {
	b.typeName = typeName
	b.params = NewParameterBus(numInputChannels)
}

func (b *Base) TypeName() string { return b.typeName }

func (b *Base) PrepareToPlay(sampleRate float64, maxBlockSize int) {
	b.sampleRate = sampleRate
	b.maxBlockSize = maxBlockSize
}

func (b *Base) ReleaseResources() {}

func (b *Base) SampleRate() float64 { return b.sampleRate }

func (b *Base) MaxBlockSize() int { return b.maxBlockSize }

func (b *Base) SetTransport(state transport.State) { b.transportState = state }

// Transport returns the snapshot for the block in flight.
func (b *Base) Transport() transport.State { return b.transportState }

// SetPins replaces both pin sets and bumps the pin version when the shape
// actually changed.
func (b *Base) SetPins(inputs, outputs []PinInfo) {
	b.pinsMu.Lock()
	changed := !pinsEqual(b.inputPins, inputs) || !pinsEqual(b.outputPins, outputs)
	b.inputPins = append([]PinInfo(nil), inputs...)
	b.outputPins = append([]PinInfo(nil), outputs...)
	b.pinsMu.Unlock()
	if changed {
		b.pinVersion.Add(1)
	}
}

func (b *Base) InputPins() []PinInfo {
	b.pinsMu.Lock()
	defer b.pinsMu.Unlock()
	return append([]PinInfo(nil), b.inputPins...)
}

func (b *Base) OutputPins() []PinInfo {
	b.pinsMu.Lock()
	defer b.pinsMu.Unlock()
	return append([]PinInfo(nil), b.outputPins...)
}

func (b *Base) PinVersion() uint64 { return b.pinVersion.Load() }

func (b *Base) Params() *ParameterBus { return b.params }

func (b *Base) ExtraState() *statetree.Node { return nil }

func (b *Base) SetExtraState(*statetree.Node) {}

func pinsEqual(a, b []PinInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
