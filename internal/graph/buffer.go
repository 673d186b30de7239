package graph

// NewBus allocates a bus of channels × maxBlockSize sample buffers backed by
// one contiguous slab. Allocation happens at prepare time only; the audio
// thread reuses the slices.
func NewBus(channels, maxBlockSize int) [][]float32 {
	if channels <= 0 || maxBlockSize <= 0 {
		return nil
	}
	slab := make([]float32, channels*maxBlockSize)
	bus := make([][]float32, channels)
	for i := range bus {
		bus[i] = slab[i*maxBlockSize : (i+1)*maxBlockSize]
	}
	return bus
}

// ZeroBus silences the first numSamples of every channel.
func ZeroBus(bus [][]float32, numSamples int) {
	for _, ch := range bus {
		n := numSamples
		if n > len(ch) {
			n = len(ch)
		}
		for i := 0; i < n; i++ {
			ch[i] = 0
		}
	}
}

// CopyChannel copies numSamples from src into dst, bounds-checked on both
// sides. Returns the number of samples copied.
func CopyChannel(dst, src []float32, numSamples int) int {
	n := numSamples
	if n > len(src) {
		n = len(src)
	}
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst[:n], src[:n])
	return n
}

// Channel returns bus[index] when it exists, nil otherwise. Modules use it
// so an out-of-range cable index degrades to silence instead of a panic.
func Channel(bus [][]float32, index int) []float32 {
	if index < 0 || index >= len(bus) {
		return nil
	}
	return bus[index]
}
