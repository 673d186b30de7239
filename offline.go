package collider

import (
	"encoding/binary"
	"math"
)

// RenderSeconds runs the patch for the given duration without an audio
// device and returns interleaved stereo samples. The transport is started
// for the render and restored to its previous state afterwards.
func (h *Host) RenderSeconds(seconds float64) []float32 {
	if seconds <= 0 {
		return nil
	}
	frames := int(h.sampleRate * seconds)
	out := make([]float32, frames*2)
	wasPlaying := h.clock.Playing()
	h.clock.SetPlaying(true)
	h.Process(out)
	h.clock.SetPlaying(wasPlaying)
	return out
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a RIFF/WAVE
// container (format 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
