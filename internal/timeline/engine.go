// Package timeline records and plays back automation lanes in lockstep with
// the shared transport. Each lane is a list of (positionBeats, value)
// keyframes; playback interpolates linearly between them with per-lane
// search hints so a block's scan resumes where the previous block stopped.
package timeline

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/graph"
	"github.com/Cignor/Collider-sub008/internal/statetree"
)

// recordEpsilon is the change-detection threshold for recording: a new
// keyframe is appended only when the input moved more than this since the
// last recorded value. Held or slowly varying signals stay sub-linear in
// sample count; edges land within one sample of the true transition.
const recordEpsilon = 0.001

// ChannelType tags what an automation lane carries.
type ChannelType int

const (
	ChannelCV ChannelType = iota
	ChannelGate
)

func (t ChannelType) String() string {
	if t == ChannelGate {
		return "gate"
	}
	return "cv"
}

func channelTypeFromString(s string) ChannelType {
	if s == "gate" {
		return ChannelGate
	}
	return ChannelCV
}

func (t ChannelType) pinType() graph.PinType {
	if t == ChannelGate {
		return graph.PinGate
	}
	return graph.PinCV
}

// Keyframe is one recorded sample of a control signal. Within a channel the
// sequence is sorted ascending by PositionBeats; recording only appends.
type Keyframe struct {
	PositionBeats float64
	Value         float32
}

// Channel is one automation lane.
type Channel struct {
	Name string
	Type ChannelType
	Keys []Keyframe
}

// Engine is the timeline module. Modes, per block:
//
//	Stopped     transport not playing — silence, wins over everything
//	Recording   passthrough input and append changed keyframes
//	Playback    interpolate recorded keyframes
//	Passthrough neither toggle set — input copied through
//
// Recording wins when both toggles are somehow set; the editor keeps them
// mutually exclusive but the engine does not rely on that.
//
// One mutex guards the channel vector and all keyframe data for recording,
// playback, serialization, and UI edits. The audio thread's critical section
// is bounded by the per-sample loop over already-resident data.
type Engine struct {
	graph.Base

	recording atomic.Bool
	playback  atomic.Bool

	mu           sync.Mutex
	channels     []*Channel
	hints        []int // last lower-bracket keyframe index per channel
	lastRecorded []float32
	hasRecorded  []bool
	selected     int

	lastPos float64 // block-start beats from the previous block, audio thread only

	playheadBits atomic.Uint64
}

// New creates a timeline with one default CV channel.
func New() *Engine {
	e := &Engine{}
	e.Init("timeline", 1)
	e.channels = []*Channel{{Name: "channel 1", Type: ChannelCV}}
	e.hints = make([]int, 1)
	e.lastRecorded = make([]float32, 1)
	e.hasRecorded = make([]bool, 1)
	e.refreshPins()
	return e
}

func (e *Engine) PrepareToPlay(sampleRate float64, maxBlockSize int) {
	e.Base.PrepareToPlay(sampleRate, maxBlockSize)
	e.mu.Lock()
	for i := range e.hints {
		e.hints[i] = 0
		e.hasRecorded[i] = false
		e.lastRecorded[i] = 0
	}
	e.mu.Unlock()
	e.lastPos = 0
}

// SetRecording toggles record mode. Recording passes the live input through
// unchanged; capture is a side effect.
func (e *Engine) SetRecording(on bool) { e.recording.Store(on) }

func (e *Engine) Recording() bool { return e.recording.Load() }

// SetPlayback toggles playback mode.
func (e *Engine) SetPlayback(on bool) { e.playback.Store(on) }

func (e *Engine) Playback() bool { return e.playback.Load() }

// PlayheadBeats is the beat position of the last processed sample, for UI
// display.
func (e *Engine) PlayheadBeats() float64 {
	return math.Float64frombits(e.playheadBits.Load())
}

// ChannelCount returns the number of lanes.
func (e *Engine) ChannelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// AddChannel appends a lane and renegotiates pins.
func (e *Engine) AddChannel(name string, typ ChannelType) {
	e.mu.Lock()
	if name == "" {
		name = fmt.Sprintf("channel %d", len(e.channels)+1)
	}
	e.channels = append(e.channels, &Channel{Name: name, Type: typ})
	e.hints = append(e.hints, 0)
	e.lastRecorded = append(e.lastRecorded, 0)
	e.hasRecorded = append(e.hasRecorded, false)
	e.mu.Unlock()
	e.refreshPins()
}

// RemoveChannel deletes a lane, keeping the hint bookkeeping in lockstep and
// clamping the selected index. Out-of-range indices are ignored.
func (e *Engine) RemoveChannel(index int) {
	e.mu.Lock()
	if index < 0 || index >= len(e.channels) {
		e.mu.Unlock()
		return
	}
	e.channels = append(e.channels[:index], e.channels[index+1:]...)
	e.hints = append(e.hints[:index], e.hints[index+1:]...)
	e.lastRecorded = append(e.lastRecorded[:index], e.lastRecorded[index+1:]...)
	e.hasRecorded = append(e.hasRecorded[:index], e.hasRecorded[index+1:]...)
	if e.selected >= len(e.channels) {
		e.selected = len(e.channels) - 1
		if e.selected < 0 {
			e.selected = 0
		}
	}
	e.mu.Unlock()
	e.refreshPins()
}

// ClearChannel drops a lane's keyframes.
func (e *Engine) ClearChannel(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.channels) {
		return
	}
	e.channels[index].Keys = nil
	e.hints[index] = 0
	e.hasRecorded[index] = false
	e.lastRecorded[index] = 0
}

// SelectedChannel is the UI's current lane, clamped to the live range.
func (e *Engine) SelectedChannel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

func (e *Engine) SetSelectedChannel(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index >= len(e.channels) && len(e.channels) > 0 {
		index = len(e.channels) - 1
	}
	e.selected = index
}

// ChannelSnapshot returns a value copy of one lane for UI display/editing,
// or nil for an out-of-range index.
func (e *Engine) ChannelSnapshot(index int) *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.channels) {
		return nil
	}
	c := e.channels[index]
	return &Channel{Name: c.Name, Type: c.Type, Keys: append([]Keyframe(nil), c.Keys...)}
}

func (e *Engine) refreshPins() {
	e.mu.Lock()
	ins := make([]graph.PinInfo, len(e.channels))
	outs := make([]graph.PinInfo, len(e.channels))
	for i, c := range e.channels {
		ins[i] = graph.PinInfo{Name: c.Name + " in", Channel: i, Type: c.Type.pinType()}
		outs[i] = graph.PinInfo{Name: c.Name + " out", Channel: i, Type: c.Type.pinType()}
	}
	e.mu.Unlock()
	e.SetPins(ins, outs)
}

func (e *Engine) ProcessBlock(in, out [][]float32, numSamples int) {
	ts := e.Transport()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ts.Playing {
		// Stopped wins over every mode.
		graph.ZeroBus(out, numSamples)
		return
	}

	blockStart := ts.PositionBeats
	bps := ts.BeatsPerSample(e.SampleRate())

	// A seek/loop-back or the global reset pulse breaks the monotonic
	// advance the hints assume.
	if ts.ResetPulse || blockStart < e.lastPos {
		for i := range e.hints {
			e.hints[i] = 0
		}
		e.lastPos = 0
	}

	switch {
	case e.recording.Load():
		e.recordBlock(in, out, numSamples, blockStart, bps)
	case e.playback.Load():
		e.playBlock(out, numSamples, blockStart, bps)
	default:
		e.passthroughBlock(in, out, numSamples)
	}

	e.lastPos = blockStart
	e.playheadBits.Store(math.Float64bits(blockStart + float64(numSamples)*bps))
}

func (e *Engine) recordBlock(in, out [][]float32, numSamples int, blockStart, bps float64) {
	for ci, c := range e.channels {
		src := graph.Channel(in, ci)
		dst := graph.Channel(out, ci)
		if src == nil {
			// Nothing patched in: silence out, record nothing.
			fillSilence(dst, numSamples)
			continue
		}
		n := numSamples
		if n > len(src) {
			n = len(src)
		}
		for i := 0; i < n; i++ {
			v := src[i]
			if dst != nil && i < len(dst) {
				dst[i] = v
			}
			pos := blockStart + float64(i)*bps
			if len(c.Keys) > 0 && pos < c.Keys[len(c.Keys)-1].PositionBeats {
				// Transport moved backwards mid-recording; appending would
				// break the sorted invariant.
				continue
			}
			if !e.hasRecorded[ci] || absDiff(v, e.lastRecorded[ci]) > recordEpsilon {
				c.Keys = append(c.Keys, Keyframe{PositionBeats: pos, Value: v})
				e.lastRecorded[ci] = v
				e.hasRecorded[ci] = true
			}
		}
		if dst != nil {
			for i := n; i < numSamples && i < len(dst); i++ {
				dst[i] = 0
			}
		}
	}
	zeroExtraOutputs(out, len(e.channels), numSamples)
}

func (e *Engine) playBlock(out [][]float32, numSamples int, blockStart, bps float64) {
	for ci, c := range e.channels {
		dst := graph.Channel(out, ci)
		if dst == nil {
			continue
		}
		if len(c.Keys) == 0 {
			fillSilence(dst, numSamples)
			continue
		}
		keys := c.Keys
		hint := e.hints[ci]
		if hint >= len(keys) {
			hint = len(keys) - 1
		}
		n := numSamples
		if n > len(dst) {
			n = len(dst)
		}
		for i := 0; i < n; i++ {
			pos := blockStart + float64(i)*bps
			for hint+1 < len(keys) && keys[hint+1].PositionBeats <= pos {
				hint++
			}
			dst[i] = valueAt(keys, hint, pos)
		}
		e.hints[ci] = hint
	}
	zeroExtraOutputs(out, len(e.channels), numSamples)
}

// valueAt evaluates the curve at pos given the lower-bracket index: hold the
// first value before the first keyframe, hold the last value at or past the
// last, and interpolate linearly in between.
func valueAt(keys []Keyframe, hint int, pos float64) float32 {
	if pos < keys[0].PositionBeats {
		return keys[0].Value
	}
	if hint >= len(keys)-1 {
		return keys[len(keys)-1].Value
	}
	k0, k1 := keys[hint], keys[hint+1]
	span := k1.PositionBeats - k0.PositionBeats
	t := 0.0
	if span > 0 {
		t = (pos - k0.PositionBeats) / span
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return k0.Value + float32(t)*(k1.Value-k0.Value)
}

func (e *Engine) passthroughBlock(in, out [][]float32, numSamples int) {
	for ci := range e.channels {
		dst := graph.Channel(out, ci)
		if dst == nil {
			continue
		}
		src := graph.Channel(in, ci)
		if src == nil {
			fillSilence(dst, numSamples)
			continue
		}
		copied := graph.CopyChannel(dst, src, numSamples)
		for i := copied; i < numSamples && i < len(dst); i++ {
			dst[i] = 0
		}
	}
	zeroExtraOutputs(out, len(e.channels), numSamples)
}

// zeroExtraOutputs silences output channels past the live lane count, which
// exist transiently while the host reacts to a pin renegotiation.
func zeroExtraOutputs(out [][]float32, fromChannel, numSamples int) {
	for ci := fromChannel; ci < len(out); ci++ {
		fillSilence(out[ci], numSamples)
	}
}

func fillSilence(dst []float32, numSamples int) {
	if dst == nil {
		return
	}
	n := numSamples
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = 0
	}
}

func absDiff(a, b float32) float32 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// ExtraState serializes all lanes and their keyframes.
func (e *Engine) ExtraState() *statetree.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	root := statetree.New("Timeline")
	root.SetInt("selected", e.selected)
	for _, c := range e.channels {
		cn := root.AddChild("Channel")
		cn.Set("name", c.Name)
		cn.Set("type", c.Type.String())
		for _, k := range c.Keys {
			kn := cn.AddChild("Key")
			kn.SetFloat("pos", k.PositionBeats)
			kn.SetFloat("value", float64(k.Value))
		}
	}
	return root
}

// SetExtraState restores lanes from a persisted tree. Missing or malformed
// children default: a nil or empty tree leaves one default channel, negative
// positions clamp to zero, and keys that would break the sorted invariant
// are dropped.
func (e *Engine) SetExtraState(node *statetree.Node) {
	var channels []*Channel
	for _, cn := range node.ChildrenNamed("Channel") {
		c := &Channel{
			Name: cn.String("name", fmt.Sprintf("channel %d", len(channels)+1)),
			Type: channelTypeFromString(cn.String("type", "cv")),
		}
		lastPos := math.Inf(-1)
		for _, kn := range cn.ChildrenNamed("Key") {
			pos := kn.Float("pos", 0)
			if pos < 0 {
				pos = 0
			}
			if pos < lastPos {
				continue
			}
			v := kn.Float("value", 0)
			c.Keys = append(c.Keys, Keyframe{PositionBeats: pos, Value: float32(v)})
			lastPos = pos
		}
		channels = append(channels, c)
	}
	if len(channels) == 0 {
		channels = []*Channel{{Name: "channel 1", Type: ChannelCV}}
	}

	e.mu.Lock()
	e.channels = channels
	e.hints = make([]int, len(channels))
	e.lastRecorded = make([]float32, len(channels))
	e.hasRecorded = make([]bool, len(channels))
	e.selected = node.Int("selected", 0)
	if e.selected < 0 {
		e.selected = 0
	}
	if e.selected >= len(channels) {
		e.selected = len(channels) - 1
	}
	e.mu.Unlock()
	e.refreshPins()
}
