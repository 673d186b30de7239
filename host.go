// Package collider is the real-time core of a modular-synth patch tool: a
// host that runs module processors in order once per audio block, patch
// cables between their buses, transport propagation, and preset persistence.
package collider

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Cignor/Collider-sub008/internal/graph"
	"github.com/Cignor/Collider-sub008/internal/transport"
)

// Cable routes one source output channel to one destination input channel.
type Cable struct {
	From        string
	FromChannel int
	To          string
	ToChannel   int
}

type moduleEntry struct {
	name string
	proc graph.Processor
	in   [][]float32
	out  [][]float32
	// pin version the buses were allocated against
	pinVersion uint64
}

// Host owns the module list, the cables, and the transport clock, and
// renders the patch block by block. Structural mutations (add/remove/
// connect, preset load, topology reconciliation) happen on the control
// thread under the same mutex the audio callback takes per block; every
// structural operation is short and bounded, so the callback never waits on
// file I/O or long scans.
type Host struct {
	sampleRate float64
	blockSize  int
	clock      *transport.Clock
	logger     *zap.Logger

	masterBits atomic.Uint32

	mu      sync.Mutex
	modules []*moduleEntry
	byName  map[string]*moduleEntry
	cables  []Cable
	output  string

	meta PresetMeta
}

// HostOption configures a Host at construction.
type HostOption func(*Host)

func WithLogger(logger *zap.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithBPM(bpm float64) HostOption {
	return func(h *Host) { h.clock.SetBPM(bpm) }
}

// NewHost creates an empty patch. blockSize caps the per-call sample count
// handed to modules; the device callback may ask for more and is served in
// sub-blocks.
func NewHost(sampleRate float64, blockSize int, opts ...HostOption) *Host {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if blockSize <= 0 {
		blockSize = 256
	}
	h := &Host{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		clock:      transport.NewClock(120),
		logger:     zap.NewNop(),
		byName:     make(map[string]*moduleEntry),
	}
	h.SetMasterVolume(1)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) SampleRate() float64 { return h.sampleRate }

func (h *Host) BlockSize() int { return h.blockSize }

// Transport exposes the shared clock for play/stop/seek/tempo control.
func (h *Host) Transport() *transport.Clock { return h.clock }

func (h *Host) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 2 {
		volume = 2
	}
	h.masterBits.Store(math.Float32bits(float32(volume)))
}

func (h *Host) MasterVolume() float64 {
	return float64(math.Float32frombits(h.masterBits.Load()))
}

// AddModule registers a processor under a unique patch name and prepares it.
func (h *Host) AddModule(name string, proc graph.Processor) error {
	if name == "" {
		return fmt.Errorf("module name must not be empty")
	}
	if proc == nil {
		return fmt.Errorf("module %q: nil processor", name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byName[name]; exists {
		return fmt.Errorf("module %q already exists", name)
	}
	proc.PrepareToPlay(h.sampleRate, h.blockSize)
	e := &moduleEntry{name: name, proc: proc}
	h.allocateBuses(e)
	h.modules = append(h.modules, e)
	h.byName[name] = e
	h.logger.Debug("module added", zap.String("name", name), zap.String("type", proc.TypeName()))
	return nil
}

// RemoveModule releases a module and drops every cable touching it.
func (h *Host) RemoveModule(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byName[name]
	if !ok {
		return fmt.Errorf("module %q not found", name)
	}
	for i, m := range h.modules {
		if m == e {
			h.modules = append(h.modules[:i], h.modules[i+1:]...)
			break
		}
	}
	delete(h.byName, name)
	kept := h.cables[:0]
	for _, c := range h.cables {
		if c.From != name && c.To != name {
			kept = append(kept, c)
		}
	}
	h.cables = kept
	if h.output == name {
		h.output = ""
	}
	e.proc.ReleaseResources()
	h.refreshConnectionFlagsLocked()
	return nil
}

// ModuleNames returns the patch's module names in processing order.
func (h *Host) ModuleNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.modules))
	for i, e := range h.modules {
		names[i] = e.name
	}
	return names
}

// Module returns the processor registered under name, or nil.
func (h *Host) Module(name string) graph.Processor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.byName[name]; ok {
		return e.proc
	}
	return nil
}

// Connect patches a cable. Channels are validated against the modules'
// current pin sets.
func (h *Host) Connect(from string, fromChannel int, to string, toChannel int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.byName[from]
	if !ok {
		return fmt.Errorf("source module %q not found", from)
	}
	dst, ok := h.byName[to]
	if !ok {
		return fmt.Errorf("destination module %q not found", to)
	}
	if !pinExists(src.proc.OutputPins(), fromChannel) {
		return fmt.Errorf("%s has no output channel %d", from, fromChannel)
	}
	if !pinExists(dst.proc.InputPins(), toChannel) {
		return fmt.Errorf("%s has no input channel %d", to, toChannel)
	}
	for _, c := range h.cables {
		if c == (Cable{from, fromChannel, to, toChannel}) {
			return nil
		}
	}
	h.cables = append(h.cables, Cable{from, fromChannel, to, toChannel})
	dst.proc.Params().SetConnected(toChannel, true)
	return nil
}

// Disconnect removes a cable if present.
func (h *Host) Disconnect(from string, fromChannel int, to string, toChannel int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.cables[:0]
	for _, c := range h.cables {
		if c == (Cable{from, fromChannel, to, toChannel}) {
			continue
		}
		kept = append(kept, c)
	}
	h.cables = kept
	h.refreshConnectionFlagsLocked()
}

// Cables returns a copy of the patch's cables.
func (h *Host) Cables() []Cable {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Cable(nil), h.cables...)
}

// SetOutput names the module whose output channels 0/1 feed the speakers.
func (h *Host) SetOutput(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byName[name]; !ok {
		return fmt.Errorf("module %q not found", name)
	}
	h.output = name
	return nil
}

// Reconcile reacts to pin renegotiation: any module whose pin version moved
// gets fresh buses, and cables whose channel indices no longer exist are
// dropped. Runs on the control thread after structural state mutations
// (e.g. timeline channel add/remove).
func (h *Host) Reconcile() {
	h.mu.Lock()
	defer h.mu.Unlock()
	changed := false
	for _, e := range h.modules {
		if v := e.proc.PinVersion(); v != e.pinVersion {
			h.allocateBuses(e)
			changed = true
		}
	}
	if !changed {
		return
	}
	kept := h.cables[:0]
	for _, c := range h.cables {
		src, dst := h.byName[c.From], h.byName[c.To]
		if src == nil || dst == nil ||
			!pinExists(src.proc.OutputPins(), c.FromChannel) ||
			!pinExists(dst.proc.InputPins(), c.ToChannel) {
			h.logger.Info("cable dropped after pin renegotiation",
				zap.String("from", c.From), zap.Int("fromChannel", c.FromChannel),
				zap.String("to", c.To), zap.Int("toChannel", c.ToChannel))
			continue
		}
		kept = append(kept, c)
	}
	h.cables = kept
	h.refreshConnectionFlagsLocked()
}

// allocateBuses sizes a module's buses from its current pin sets. Caller
// holds h.mu.
func (h *Host) allocateBuses(e *moduleEntry) {
	e.in = graph.NewBus(maxChannel(e.proc.InputPins())+1, h.blockSize)
	e.out = graph.NewBus(maxChannel(e.proc.OutputPins())+1, h.blockSize)
	e.pinVersion = e.proc.PinVersion()
}

// refreshConnectionFlagsLocked re-derives every module's per-channel cable
// flags from the cable list. Caller holds h.mu.
func (h *Host) refreshConnectionFlagsLocked() {
	for _, e := range h.modules {
		for ch := range e.in {
			e.proc.Params().SetConnected(ch, false)
		}
	}
	for _, c := range h.cables {
		if dst, ok := h.byName[c.To]; ok {
			dst.proc.Params().SetConnected(c.ToChannel, true)
		}
	}
}

func pinExists(pins []graph.PinInfo, channel int) bool {
	for _, p := range pins {
		if p.Channel == channel {
			return true
		}
	}
	return false
}

func maxChannel(pins []graph.PinInfo) int {
	max := -1
	for _, p := range pins {
		if p.Channel > max {
			max = p.Channel
		}
	}
	return max
}

// Process renders interleaved stereo frames into dst. It is the audio
// callback entry point: the lock is held only for bounded per-block work,
// modules run in list order, and cables from later modules deliver the
// previous block's data (one block of feedback latency by construction).
func (h *Host) Process(dst []float32) {
	frames := len(dst) / 2
	offset := 0
	for frames > 0 {
		n := frames
		if n > h.blockSize {
			n = h.blockSize
		}
		h.processBlock(dst[offset*2:(offset+n)*2], n)
		frames -= n
		offset += n
	}
}

func (h *Host) processBlock(dst []float32, numSamples int) {
	ts := h.clock.Snapshot()

	h.mu.Lock()
	for _, e := range h.modules {
		graph.ZeroBus(e.in, numSamples)
		for _, c := range h.cables {
			if c.To != e.name {
				continue
			}
			src, ok := h.byName[c.From]
			if !ok {
				continue
			}
			to := graph.Channel(e.in, c.ToChannel)
			from := graph.Channel(src.out, c.FromChannel)
			if to == nil || from == nil {
				continue
			}
			graph.CopyChannel(to, from, numSamples)
		}
		e.proc.SetTransport(ts)
		e.proc.ProcessBlock(e.in, e.out, numSamples)
	}

	master := math.Float32frombits(h.masterBits.Load())
	var left, right []float32
	if out, ok := h.byName[h.output]; ok {
		left = graph.Channel(out.out, 0)
		right = graph.Channel(out.out, 1)
	}
	if right == nil {
		right = left
	}
	for i := 0; i < numSamples; i++ {
		var l, r float32
		if left != nil && i < len(left) {
			l = left[i] * master
		}
		if right != nil && i < len(right) {
			r = right[i] * master
		}
		dst[i*2] = l
		dst[i*2+1] = r
	}
	h.mu.Unlock()

	h.clock.Advance(numSamples, h.sampleRate)
}
