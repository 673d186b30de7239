package graph

import "sync/atomic"

// ParameterBus maps named modulatable parameters to fixed channel positions
// on a module's input bus, and tracks which of those channels currently has
// a modulation cable attached. Bindings are fixed at construction; the
// connected flags flip at patch time, so they are atomics the audio thread
// may read while iterating samples.
type ParameterBus struct {
	routes    map[string]int
	connected []atomic.Bool
}

// NewParameterBus creates a bus tracking numInputChannels connection flags.
func NewParameterBus(numInputChannels int) *ParameterBus {
	if numInputChannels < 0 {
		numInputChannels = 0
	}
	return &ParameterBus{
		routes:    make(map[string]int),
		connected: make([]atomic.Bool, numInputChannels),
	}
}

// Bind routes a parameter name to an input-bus channel. Out-of-range
// channels are ignored rather than asserted; patches are untrusted data.
func (b *ParameterBus) Bind(paramID string, channel int) {
	if channel < 0 || channel >= len(b.connected) {
		return
	}
	b.routes[paramID] = channel
}

// Route returns the input-bus channel carrying the parameter's modulation
// signal, or ok=false when the parameter is not routable.
func (b *ParameterBus) Route(paramID string) (channel int, ok bool) {
	ch, ok := b.routes[paramID]
	return ch, ok
}

// SetConnected records whether a modulation cable is attached to the given
// input channel. Called by the host at patch time.
func (b *ParameterBus) SetConnected(channel int, connected bool) {
	if channel < 0 || channel >= len(b.connected) {
		return
	}
	b.connected[channel].Store(connected)
}

// ChannelConnected reports whether the input channel has a cable attached.
func (b *ParameterBus) ChannelConnected(channel int) bool {
	if channel < 0 || channel >= len(b.connected) {
		return false
	}
	return b.connected[channel].Load()
}

// Modulated reports whether the named parameter is actively CV-driven:
// routable and with a cable on its channel. UI layers use this to grey out
// knobs; processors use it to choose between the knob value and the CV input.
func (b *ParameterBus) Modulated(paramID string) bool {
	ch, ok := b.routes[paramID]
	if !ok {
		return false
	}
	return b.ChannelConnected(ch)
}
