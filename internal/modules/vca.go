package modules

import (
	"math"
	"sync/atomic"

	"github.com/Cignor/Collider-sub008/internal/graph"
)

// VCA scales a stereo signal by its level knob, or by the level CV input
// when a modulation cable is attached there. The "level" parameter is
// routed through the parameter bus so the UI can grey out the knob while it
// is CV-driven.
type VCA struct {
	graph.Base

	levelBits atomic.Uint32
}

const (
	vcaInL     = 0
	vcaInR     = 1
	vcaLevelCV = 2
)

func NewVCA() *VCA {
	v := &VCA{}
	v.Init("vca", 3)
	v.SetLevel(1)
	v.SetPins(
		[]graph.PinInfo{
			{Name: "in L", Channel: vcaInL, Type: graph.PinAudio},
			{Name: "in R", Channel: vcaInR, Type: graph.PinAudio},
			{Name: "level", Channel: vcaLevelCV, Type: graph.PinCV},
		},
		[]graph.PinInfo{
			{Name: "out L", Channel: 0, Type: graph.PinAudio},
			{Name: "out R", Channel: 1, Type: graph.PinAudio},
		},
	)
	v.Params().Bind("level", vcaLevelCV)
	return v
}

func (v *VCA) SetLevel(level float64) {
	if level < 0 {
		level = 0
	} else if level > 2 {
		level = 2
	}
	v.levelBits.Store(math.Float32bits(float32(level)))
}

func (v *VCA) Level() float64 {
	return float64(math.Float32frombits(v.levelBits.Load()))
}

func (v *VCA) ProcessBlock(in, out [][]float32, numSamples int) {
	knob := math.Float32frombits(v.levelBits.Load())
	modulated := v.Params().Modulated("level")
	cv := graph.Channel(in, vcaLevelCV)

	for ch := 0; ch < 2; ch++ {
		src := graph.Channel(in, ch)
		dst := graph.Channel(out, ch)
		if dst == nil {
			continue
		}
		if src == nil {
			fill(dst, 0, numSamples)
			continue
		}
		n := numSamples
		if n > len(dst) {
			n = len(dst)
		}
		if n > len(src) {
			n = len(src)
		}
		for i := 0; i < n; i++ {
			g := knob
			if modulated && cv != nil && i < len(cv) {
				g = cv[i]
				if g < 0 {
					g = 0
				}
			}
			dst[i] = src[i] * g
		}
		for i := n; i < numSamples && i < len(dst); i++ {
			dst[i] = 0
		}
	}
}
