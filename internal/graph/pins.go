package graph

// PinType tags what kind of signal a connector carries.
type PinType int

const (
	PinAudio PinType = iota
	PinCV
	PinGate
	PinRaw
)

func (t PinType) String() string {
	switch t {
	case PinAudio:
		return "audio"
	case PinCV:
		return "cv"
	case PinGate:
		return "gate"
	case PinRaw:
		return "raw"
	}
	return "unknown"
}

// PinInfo describes one connector a module currently exposes. Channel is the
// index into the module's input or output bus that the pin reads or writes.
// Pin sets can change at runtime (timeline channels come and go); hosts must
// re-poll after a pin-version bump and drop cables whose channel indices no
// longer exist.
type PinInfo struct {
	Name    string
	Channel int
	Type    PinType
}
