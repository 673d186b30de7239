package transport

import (
	"math"
	"testing"
)

func TestStateBeatMath(t *testing.T) {
	s := State{BPM: 120}
	if got := s.SamplesPerBeat(48000); got != 24000 {
		t.Fatalf("samples per beat = %v, want 24000", got)
	}
	if got := s.BeatsPerSample(48000); math.Abs(got-1.0/24000) > 1e-12 {
		t.Fatalf("beats per sample = %v", got)
	}
}

func TestStateBeatMathDefaultsBadBPM(t *testing.T) {
	s := State{BPM: 0}
	if got := s.SamplesPerBeat(48000); got != 24000 {
		t.Fatalf("zero BPM should fall back to 120, got %v samples/beat", got)
	}
}

func TestClockAdvanceOnlyWhilePlaying(t *testing.T) {
	c := NewClock(120)
	c.Advance(48000, 48000)
	if got := c.PositionBeats(); got != 0 {
		t.Fatalf("stopped clock advanced to %v beats", got)
	}
	if got := c.SampleClock(); got != 48000 {
		t.Fatalf("sample clock = %d, want 48000", got)
	}
	c.SetPlaying(true)
	c.Advance(48000, 48000)
	if got := c.PositionBeats(); math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("1s at 120 BPM should be 2 beats, got %v", got)
	}
}

func TestClockResetPulseIsOneShot(t *testing.T) {
	c := NewClock(120)
	c.RequestReset()
	if !c.Snapshot().ResetPulse {
		t.Fatal("expected reset pulse on first snapshot")
	}
	if c.Snapshot().ResetPulse {
		t.Fatal("reset pulse should be consumed by the first snapshot")
	}
}

func TestClockSeekArmsReset(t *testing.T) {
	c := NewClock(120)
	c.Seek(16)
	snap := c.Snapshot()
	if snap.PositionBeats != 16 {
		t.Fatalf("position = %v, want 16", snap.PositionBeats)
	}
	if !snap.ResetPulse {
		t.Fatal("seek should arm the reset pulse")
	}
}
