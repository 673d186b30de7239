package timeline

import (
	"math"
	"testing"

	"github.com/Cignor/Collider-sub008/internal/graph"
	"github.com/Cignor/Collider-sub008/internal/transport"
)

const testRate = 48000.0

func preparedEngine(t *testing.T, blockSize int) *Engine {
	t.Helper()
	e := New()
	e.PrepareToPlay(testRate, blockSize)
	return e
}

func setKeys(e *Engine, channel int, keys []Keyframe) {
	e.mu.Lock()
	e.channels[channel].Keys = append([]Keyframe(nil), keys...)
	e.mu.Unlock()
}

func runBlock(e *Engine, ts transport.State, in, out [][]float32, n int) {
	e.SetTransport(ts)
	e.ProcessBlock(in, out, n)
}

func TestPlaybackLinearInterpolation(t *testing.T) {
	out := graph.NewBus(1, 1)
	cases := []struct {
		pos  float64
		want float32
	}{
		{0.5, 0.5}, // midpoint
		{-1, 0.0},  // clamp to first
		{5, 1.0},   // clamp to last
		{0, 0.0},
		{1, 1.0},
	}
	for _, c := range cases {
		// Fresh engine per case: evaluation must not depend on scan history.
		e := preparedEngine(t, 1)
		setKeys(e, 0, []Keyframe{{0, 0.0}, {1, 1.0}})
		e.SetPlayback(true)
		runBlock(e, transport.State{Playing: true, BPM: 120, PositionBeats: c.pos}, nil, out, 1)
		if math.Abs(float64(out[0][0]-c.want)) > 1e-6 {
			t.Errorf("playback at %v = %v, want %v", c.pos, out[0][0], c.want)
		}
	}
}

func TestPlaybackEmptyChannelYieldsSilence(t *testing.T) {
	e := preparedEngine(t, 16)
	e.SetPlayback(true)
	out := graph.NewBus(1, 16)
	out[0][3] = 7 // stale garbage must be overwritten
	runBlock(e, transport.State{Playing: true, BPM: 120}, nil, out, 16)
	for i, v := range out[0] {
		if v != 0 {
			t.Fatalf("sample %d = %v, want silence", i, v)
		}
	}
}

func TestStoppedTransportSilencesEverything(t *testing.T) {
	e := preparedEngine(t, 8)
	setKeys(e, 0, []Keyframe{{0, 0.9}})
	e.SetPlayback(true)
	in := graph.NewBus(1, 8)
	out := graph.NewBus(1, 8)
	for i := range in[0] {
		in[0][i] = 1
	}
	runBlock(e, transport.State{Playing: false, BPM: 120}, in, out, 8)
	for i, v := range out[0] {
		if v != 0 {
			t.Fatalf("sample %d = %v, stopped must emit silence", i, v)
		}
	}
}

func TestRecordingCompressesConstantInput(t *testing.T) {
	e := preparedEngine(t, 1000)
	e.SetRecording(true)
	in := graph.NewBus(1, 1000)
	out := graph.NewBus(1, 1000)
	for i := range in[0] {
		in[0][i] = 0.42
	}
	runBlock(e, transport.State{Playing: true, BPM: 120}, in, out, 1000)

	c := e.ChannelSnapshot(0)
	if len(c.Keys) != 1 {
		t.Fatalf("constant input recorded %d keyframes, want 1", len(c.Keys))
	}
	if c.Keys[0].Value != 0.42 {
		t.Fatalf("first keyframe value = %v", c.Keys[0].Value)
	}
	// Recording is non-destructive to the signal path.
	for i, v := range out[0] {
		if v != 0.42 {
			t.Fatalf("passthrough sample %d = %v", i, v)
		}
	}
}

func TestRecordingCapturesSpike(t *testing.T) {
	e := preparedEngine(t, 1000)
	e.SetRecording(true)
	in := graph.NewBus(1, 1000)
	out := graph.NewBus(1, 1000)
	for i := range in[0] {
		in[0][i] = 0.1
	}
	in[0][500] = 0.9
	runBlock(e, transport.State{Playing: true, BPM: 120}, in, out, 1000)

	c := e.ChannelSnapshot(0)
	// First sample, the spike, and the fall back below epsilon.
	if len(c.Keys) != 3 {
		t.Fatalf("spike recorded %d keyframes, want 3", len(c.Keys))
	}
	if c.Keys[1].Value != 0.9 {
		t.Fatalf("spike keyframe value = %v", c.Keys[1].Value)
	}
}

func TestRecordingBelowEpsilonIgnored(t *testing.T) {
	e := preparedEngine(t, 100)
	e.SetRecording(true)
	in := graph.NewBus(1, 100)
	out := graph.NewBus(1, 100)
	for i := range in[0] {
		in[0][i] = 0.5 + float32(i)*0.0000001
	}
	runBlock(e, transport.State{Playing: true, BPM: 120}, in, out, 100)
	if got := len(e.ChannelSnapshot(0).Keys); got != 1 {
		t.Fatalf("sub-epsilon drift recorded %d keyframes, want 1", got)
	}
}

func TestResetPulseRealignsPlayback(t *testing.T) {
	blockSize := 64
	e := preparedEngine(t, blockSize)
	setKeys(e, 0, []Keyframe{{0, 0.0}, {0.001, 0.25}, {2, 1.0}})
	e.SetPlayback(true)

	out := graph.NewBus(1, blockSize)
	ts := transport.State{Playing: true, BPM: 120}

	// Cold-start playback at beat 0.
	runBlock(e, ts, nil, out, blockSize)
	cold := append([]float32(nil), out[0]...)

	// Advance far so the hints move past the early keyframes.
	ts.PositionBeats = 1.9
	runBlock(e, ts, nil, out, blockSize)

	// Loop pulse: replaying beat 0 must match the cold start exactly.
	ts.PositionBeats = 0
	ts.ResetPulse = true
	runBlock(e, ts, nil, out, blockSize)
	for i := range cold {
		if out[0][i] != cold[i] {
			t.Fatalf("sample %d after reset = %v, cold start = %v", i, out[0][i], cold[i])
		}
	}
}

func TestSeekBackwardResetsHints(t *testing.T) {
	blockSize := 32
	e := preparedEngine(t, blockSize)
	setKeys(e, 0, []Keyframe{{0, 0.0}, {0.0001, 0.5}, {3, 1.0}})
	e.SetPlayback(true)

	out := graph.NewBus(1, blockSize)
	runBlock(e, transport.State{Playing: true, BPM: 120, PositionBeats: 2.5}, nil, out, blockSize)

	// No reset pulse, but position moved backwards: hints must rewind or the
	// early keyframe pair would be skipped.
	runBlock(e, transport.State{Playing: true, BPM: 120, PositionBeats: 0}, nil, out, blockSize)
	if out[0][0] != 0 {
		t.Fatalf("sample 0 after backward seek = %v, want 0", out[0][0])
	}
}

func TestRecordThenPlaybackRoundTrip(t *testing.T) {
	// Record 2 seconds of a linearly rising signal at 120 BPM, then play it
	// back over the same span and compare within interpolation error.
	blockSize := 256
	totalSamples := int(2 * testRate)
	e := preparedEngine(t, blockSize)
	e.SetRecording(true)

	in := graph.NewBus(1, blockSize)
	out := graph.NewBus(1, blockSize)
	ts := transport.State{Playing: true, BPM: 120}
	bps := ts.BeatsPerSample(testRate)

	sample := 0
	for sample < totalSamples {
		n := blockSize
		if sample+n > totalSamples {
			n = totalSamples - sample
		}
		for i := 0; i < n; i++ {
			in[0][i] = float32(sample+i) / float32(totalSamples)
		}
		ts.PositionBeats = float64(sample) * bps
		runBlock(e, ts, in, out, n)
		sample += n
	}

	e.SetRecording(false)
	e.SetPlayback(true)

	ts.ResetPulse = true
	sample = 0
	for sample < totalSamples {
		n := blockSize
		if sample+n > totalSamples {
			n = totalSamples - sample
		}
		ts.PositionBeats = float64(sample) * bps
		runBlock(e, ts, nil, out, n)
		ts.ResetPulse = false
		for i := 0; i < n; i++ {
			want := float32(sample+i) / float32(totalSamples)
			if math.Abs(float64(out[0][i]-want)) > 2*recordEpsilon {
				t.Fatalf("playback sample %d = %v, want %v ± %v", sample+i, out[0][i], want, 2*recordEpsilon)
			}
		}
		sample += n
	}
}

func TestRecordWinsOverPlayback(t *testing.T) {
	e := preparedEngine(t, 8)
	setKeys(e, 0, []Keyframe{{0, 0.9}})
	e.SetRecording(true)
	e.SetPlayback(true)
	in := graph.NewBus(1, 8)
	out := graph.NewBus(1, 8)
	for i := range in[0] {
		in[0][i] = 0.2
	}
	runBlock(e, transport.State{Playing: true, BPM: 120}, in, out, 8)
	if out[0][0] != 0.2 {
		t.Fatalf("with both toggles set, record must win; got %v", out[0][0])
	}
}

func TestAddRemoveChannelKeepsBookkeeping(t *testing.T) {
	e := preparedEngine(t, 8)
	v0 := e.PinVersion()
	e.AddChannel("wobble", ChannelCV)
	if e.ChannelCount() != 2 {
		t.Fatalf("channel count = %d", e.ChannelCount())
	}
	if e.PinVersion() == v0 {
		t.Fatal("adding a channel must bump the pin version")
	}
	if got := len(e.InputPins()); got != 2 {
		t.Fatalf("input pins = %d, want 2", got)
	}

	e.SetSelectedChannel(1)
	e.RemoveChannel(1)
	if e.ChannelCount() != 1 {
		t.Fatalf("channel count after remove = %d", e.ChannelCount())
	}
	if e.SelectedChannel() != 0 {
		t.Fatalf("selected channel should clamp to 0, got %d", e.SelectedChannel())
	}

	// Engine must still process cleanly after the resize.
	out := graph.NewBus(1, 8)
	e.SetPlayback(true)
	runBlock(e, transport.State{Playing: true, BPM: 120}, nil, out, 8)
}

func TestRemoveChannelOutOfRangeIgnored(t *testing.T) {
	e := preparedEngine(t, 8)
	e.RemoveChannel(5)
	e.RemoveChannel(-1)
	if e.ChannelCount() != 1 {
		t.Fatalf("channel count = %d", e.ChannelCount())
	}
}

func TestExtraStateRoundTrip(t *testing.T) {
	e := preparedEngine(t, 8)
	e.AddChannel("mod", ChannelGate)
	setKeys(e, 0, []Keyframe{{0, 0.1}, {1.5, 0.8}})
	e.SetSelectedChannel(1)

	tree := e.ExtraState()

	restored := New()
	restored.SetExtraState(tree)
	if restored.ChannelCount() != 2 {
		t.Fatalf("restored %d channels, want 2", restored.ChannelCount())
	}
	c0 := restored.ChannelSnapshot(0)
	if len(c0.Keys) != 2 || c0.Keys[1].PositionBeats != 1.5 {
		t.Fatalf("restored keys wrong: %+v", c0.Keys)
	}
	c1 := restored.ChannelSnapshot(1)
	if c1.Name != "mod" || c1.Type != ChannelGate {
		t.Fatalf("restored channel 1 = %+v", c1)
	}
	if restored.SelectedChannel() != 1 {
		t.Fatalf("restored selected = %d", restored.SelectedChannel())
	}
}

func TestSetExtraStateToleratesGarbage(t *testing.T) {
	e := New()
	e.SetExtraState(nil)
	if e.ChannelCount() != 1 {
		t.Fatal("nil tree should leave one default channel")
	}

	bad := e.ExtraState()
	bad.Set("selected", "nonsense")
	ch := bad.Child("Channel")
	k := ch.AddChild("Key")
	k.Set("pos", "-3")
	k.Set("value", "0.5")
	k2 := ch.AddChild("Key")
	k2.Set("pos", "not a number")
	k2.Set("value", "0.6")

	e.SetExtraState(bad)
	c := e.ChannelSnapshot(0)
	for _, key := range c.Keys {
		if key.PositionBeats < 0 {
			t.Fatalf("negative position survived: %+v", key)
		}
	}
	if e.SelectedChannel() != 0 {
		t.Fatalf("malformed selected should default, got %d", e.SelectedChannel())
	}
}

func TestSetExtraStateDropsUnsortedKeys(t *testing.T) {
	tree := New().ExtraState()
	ch := tree.Child("Channel")
	a := ch.AddChild("Key")
	a.Set("pos", "2")
	a.Set("value", "0.2")
	b := ch.AddChild("Key")
	b.Set("pos", "1")
	b.Set("value", "0.4")

	e := New()
	e.SetExtraState(tree)
	keys := e.ChannelSnapshot(0).Keys
	if len(keys) != 1 || keys[0].PositionBeats != 2 {
		t.Fatalf("unsorted key should be dropped, got %+v", keys)
	}
}
