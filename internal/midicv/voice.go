// Package midicv converts MIDI note and controller input into polyphonic
// gate / pitch-CV / velocity-CV signals through a fixed voice pool.
package midicv

// NumVoices is the fixed polyphony of the converter.
const NumVoices = 8

// Voice is one slot of the polyphonic pool. Note is -1 while the slot is
// free. StartSample is the monotonic sample-clock stamp from allocation,
// kept to break steal ties by age.
type Voice struct {
	Active      bool
	Note        int
	Velocity    float32
	Channel     int
	StartSample int64
}

// allocator is the unsynchronized core of the voice pool. The owning module
// guards every call with its mutex; the audio path only ever sees value
// snapshots of the pool.
type allocator struct {
	voices [NumVoices]Voice
}

func (a *allocator) reset() {
	for i := range a.voices {
		a.voices[i] = Voice{Note: -1}
	}
}

// allocate maps a note-on onto a voice slot and returns its index.
// A free slot wins (first-fit, deterministic for identical input). With the
// pool full, the active voice holding the numerically lowest note is re-keyed
// to the new note; ties go to the lowest pool index by scan order. A note
// already sounding retriggers its own voice so no two voices ever hold the
// same note.
func (a *allocator) allocate(note, channel int, velocity float32, sampleClock int64) int {
	if idx := a.findVoiceForNote(note); idx >= 0 {
		a.voices[idx] = Voice{Active: true, Note: note, Velocity: velocity, Channel: channel, StartSample: sampleClock}
		return idx
	}
	for i := range a.voices {
		if !a.voices[i].Active {
			a.voices[i] = Voice{Active: true, Note: note, Velocity: velocity, Channel: channel, StartSample: sampleClock}
			return i
		}
	}
	victim := 0
	for i := 1; i < NumVoices; i++ {
		if a.voices[i].Note < a.voices[victim].Note {
			victim = i
		}
	}
	a.voices[victim] = Voice{Active: true, Note: note, Velocity: velocity, Channel: channel, StartSample: sampleClock}
	return victim
}

// release frees the voice at index only when it still holds the given note.
// A stale release for a voice that has since been stolen is a silent no-op:
// a late note-off must not kill the newer note sharing the slot.
func (a *allocator) release(index, note int) bool {
	if index < 0 || index >= NumVoices {
		return false
	}
	v := &a.voices[index]
	if !v.Active || v.Note != note {
		return false
	}
	*v = Voice{Note: -1}
	return true
}

// findVoiceForNote returns the index of the first active voice holding the
// note, or -1.
func (a *allocator) findVoiceForNote(note int) int {
	for i := range a.voices {
		if a.voices[i].Active && a.voices[i].Note == note {
			return i
		}
	}
	return -1
}

func (a *allocator) activeCount() int {
	n := 0
	for i := range a.voices {
		if a.voices[i].Active {
			n++
		}
	}
	return n
}

// NoteToCV converts a MIDI note number to 1 V/octave pitch CV with middle C
// (MIDI 60) at 0 V.
func NoteToCV(note int) float32 {
	return float32(note-60) / 12.0
}
