package midicv

import (
	"testing"

	"github.com/Cignor/Collider-sub008/internal/graph"
)

func TestNoteToCV(t *testing.T) {
	cases := []struct {
		note int
		want float32
	}{
		{60, 0.0},
		{72, 1.0},
		{48, -1.0},
		{66, 0.5},
	}
	for _, c := range cases {
		if got := NoteToCV(c.note); got != c.want {
			t.Errorf("NoteToCV(%d) = %v, want %v", c.note, got, c.want)
		}
	}
}

func TestAllocateFillsAllSlots(t *testing.T) {
	var a allocator
	a.reset()
	for i := 0; i < NumVoices; i++ {
		idx := a.allocate(60+i, 0, 0.8, int64(i))
		if idx != i {
			t.Fatalf("note %d went to slot %d, want %d (first-fit)", 60+i, idx, i)
		}
	}
	if a.activeCount() != NumVoices {
		t.Fatalf("active = %d, want %d", a.activeCount(), NumVoices)
	}
}

func TestStealLowestNote(t *testing.T) {
	var a allocator
	a.reset()
	notes := []int{64, 60, 67, 62, 71, 65, 69, 72}
	for i, n := range notes {
		a.allocate(n, 0, 0.8, int64(i))
	}
	idx := a.allocate(74, 0, 0.8, 100)
	if idx != 1 {
		t.Fatalf("steal victim = slot %d, want slot 1 (held lowest note 60)", idx)
	}
	if a.voices[1].Note != 74 || !a.voices[1].Active {
		t.Fatalf("victim not re-keyed: %+v", a.voices[1])
	}
	if a.voices[1].StartSample != 100 {
		t.Fatalf("steal must restamp start sample, got %d", a.voices[1].StartSample)
	}
}

func TestStealTieBreaksOnLowestIndex(t *testing.T) {
	var a allocator
	a.reset()
	// Slots 0..7 all hold note 60 is impossible (one note per voice), so use
	// two equal-lowest notes via distinct notes then re-key: fill with 61,
	// then set two slots to the same lowest value by hand.
	for i := 0; i < NumVoices; i++ {
		a.allocate(70+i, 0, 0.5, int64(i))
	}
	a.voices[3].Note = 50
	a.voices[5].Note = 50
	if idx := a.allocate(90, 0, 0.5, 10); idx != 3 {
		t.Fatalf("tie should go to lowest index, got %d", idx)
	}
}

func TestStaleReleaseIsNoOp(t *testing.T) {
	var a allocator
	a.reset()
	for i := 0; i < NumVoices; i++ {
		a.allocate(60+i, 0, 0.8, int64(i))
	}
	// Note 60 is the lowest; stealing re-keys slot 0 to 80.
	victim := a.allocate(80, 0, 0.8, 99)
	if victim != 0 {
		t.Fatalf("victim = %d, want 0", victim)
	}
	if a.release(0, 60) {
		t.Fatal("late note-off for stolen note must be a no-op")
	}
	if !a.voices[0].Active || a.voices[0].Note != 80 {
		t.Fatalf("voice 0 should still play note 80: %+v", a.voices[0])
	}
	if !a.release(0, 80) {
		t.Fatal("matching release should free the voice")
	}
	if a.voices[0].Active || a.voices[0].Note != -1 {
		t.Fatalf("voice 0 should be free: %+v", a.voices[0])
	}
}

func TestSameNoteRetriggersExistingVoice(t *testing.T) {
	var a allocator
	a.reset()
	first := a.allocate(60, 0, 0.5, 1)
	second := a.allocate(60, 0, 0.9, 2)
	if first != second {
		t.Fatalf("same note moved from slot %d to %d", first, second)
	}
	if a.activeCount() != 1 {
		t.Fatalf("active = %d, want 1 (one voice per note)", a.activeCount())
	}
	if a.voices[first].Velocity != 0.9 {
		t.Fatal("retrigger should take the new velocity")
	}
}

func TestFindVoiceForNote(t *testing.T) {
	var a allocator
	a.reset()
	a.allocate(64, 0, 0.5, 0)
	if idx := a.findVoiceForNote(64); idx != 0 {
		t.Fatalf("findVoiceForNote(64) = %d", idx)
	}
	if idx := a.findVoiceForNote(65); idx != -1 {
		t.Fatalf("findVoiceForNote(65) = %d, want -1", idx)
	}
}

func TestModuleRendersGatePitchVelocity(t *testing.T) {
	m := New()
	m.PrepareToPlay(48000, 64)
	m.NoteOn(0, 72, 0.75)

	out := graph.NewBus(NumOutputChannels, 64)
	m.ProcessBlock(nil, out, 64)

	if out[gateOffset][0] != 1 {
		t.Fatal("gate 1 should be high")
	}
	if out[pitchOffset][0] != 1.0 {
		t.Fatalf("pitch CV = %v, want 1.0 for note 72", out[pitchOffset][0])
	}
	if out[velocityOffset][0] != 0.75 {
		t.Fatalf("velocity CV = %v", out[velocityOffset][0])
	}
	// Voice 2 silent.
	if out[chansPerVoice+gateOffset][0] != 0 {
		t.Fatal("unused voice gate should be low")
	}

	m.NoteOff(0, 72)
	m.ProcessBlock(nil, out, 64)
	if out[gateOffset][0] != 0 {
		t.Fatal("gate should drop after note-off")
	}
}

func TestModuleChannelFilter(t *testing.T) {
	m := New()
	m.PrepareToPlay(48000, 64)
	m.SetChannelFilter(2)
	m.NoteOn(0, 60, 1)
	if m.ActiveVoices() != 0 {
		t.Fatal("filtered channel must not allocate")
	}
	m.NoteOn(2, 60, 1)
	if m.ActiveVoices() != 1 {
		t.Fatal("matching channel should allocate")
	}
}

func TestModuleControllerSmoothing(t *testing.T) {
	m := New()
	m.PrepareToPlay(48000, 128)
	m.SetModWheel(1)
	out := graph.NewBus(NumOutputChannels, 128)
	m.ProcessBlock(nil, out, 128)
	wheel := out[ChanModWheel]
	if wheel[0] >= 1 {
		t.Fatal("smoothed CV should approach the target, not jump")
	}
	if wheel[127] <= wheel[0] {
		t.Fatal("smoothed CV should rise toward the target")
	}
}

func TestModulePinSetMatchesBusLayout(t *testing.T) {
	m := New()
	pins := m.OutputPins()
	if len(pins) != NumOutputChannels {
		t.Fatalf("pin count = %d, want %d", len(pins), NumOutputChannels)
	}
	seen := make(map[int]bool)
	for _, p := range pins {
		if p.Channel < 0 || p.Channel >= NumOutputChannels {
			t.Fatalf("pin %q channel %d out of range", p.Name, p.Channel)
		}
		if seen[p.Channel] {
			t.Fatalf("duplicate channel %d", p.Channel)
		}
		seen[p.Channel] = true
	}
	if len(m.InputPins()) != 0 {
		t.Fatal("midi_cv has no inputs")
	}
}

func TestPrepareToPlayResetsPool(t *testing.T) {
	m := New()
	m.PrepareToPlay(48000, 64)
	m.NoteOn(0, 60, 1)
	m.PrepareToPlay(44100, 32)
	if m.ActiveVoices() != 0 {
		t.Fatal("prepare must reset the voice pool")
	}
	snap := m.VoicesSnapshot()
	for i, v := range snap {
		if v.Active || v.Note != -1 {
			t.Fatalf("voice %d not reset: %+v", i, v)
		}
	}
}
