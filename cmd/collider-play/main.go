// Command collider-play loads a preset (or a default audition patch), opens
// a MIDI input port, and streams the patch to the speakers.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver
	"go.uber.org/zap"

	collider "github.com/Cignor/Collider-sub008"
	"github.com/Cignor/Collider-sub008/internal/logging"
	"github.com/Cignor/Collider-sub008/internal/midicv"
	"github.com/Cignor/Collider-sub008/internal/modules"
)

func main() {
	var (
		presetPath = flag.String("preset", "", "path to a preset XML file")
		midiPort   = flag.String("midi-port", "", "MIDI input port name (empty = first available)")
		midiChan   = flag.Int("midi-channel", -1, "MIDI channel filter 0-15 (-1 = omni)")
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		blockSize  = flag.Int("block-size", 256, "processing block size in samples")
		bpm        = flag.Float64("bpm", 120, "transport tempo")
		play       = flag.Bool("play", false, "start the transport immediately")
		listPorts  = flag.Bool("list-ports", false, "list MIDI input ports and exit")
		verbose    = flag.Bool("verbose", false, "human-readable debug logging")
	)
	flag.Parse()

	logger, err := logging.New(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	defer gomidi.CloseDriver()

	if *listPorts {
		for _, in := range gomidi.GetInPorts() {
			fmt.Println(in.String())
		}
		return
	}

	host := collider.NewHost(float64(*sampleRate), *blockSize,
		collider.WithLogger(logger), collider.WithBPM(*bpm))

	var keys *midicv.Module
	if *presetPath != "" {
		if err := host.LoadPresetFile(*presetPath, nil); err != nil {
			logger.Fatal("preset load failed", zap.String("path", *presetPath), zap.Error(err))
		}
		keys = findMIDIModule(host)
		logger.Info("preset loaded", zap.String("path", *presetPath), zap.Strings("modules", host.ModuleNames()))
	} else {
		keys = buildDefaultPatch(host, logger)
	}
	if keys != nil {
		keys.SetChannelFilter(*midiChan)
	}

	if keys != nil {
		stop, err := listenMIDI(keys, *midiPort, logger)
		if err != nil {
			logger.Warn("MIDI input unavailable, continuing without it", zap.Error(err))
		} else {
			defer stop()
		}
	} else {
		logger.Warn("preset has no MIDI-CV module; audition is transport-only")
	}

	audition, err := host.StartAudition()
	if err != nil {
		logger.Fatal("audio device open failed", zap.Error(err))
	}
	defer audition.Stop()

	if *play {
		host.Transport().SetPlaying(true)
	}

	logger.Info("auditioning", zap.Float64("bpm", host.Transport().BPM()), zap.Int("sampleRate", *sampleRate))
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("stopping")
}

// buildDefaultPatch wires midi_cv → poly_osc → waveshaper → vca so an empty
// invocation is immediately playable.
func buildDefaultPatch(host *collider.Host, logger *zap.Logger) *midicv.Module {
	keys := midicv.New()
	osc := modules.NewPolyOsc()
	shaper := modules.NewWaveshaper()
	amp := modules.NewVCA()
	shaper.SetDrive(1.5)

	must := func(err error) {
		if err != nil {
			logger.Fatal("default patch wiring failed", zap.Error(err))
		}
	}
	must(host.AddModule("keys", keys))
	must(host.AddModule("osc", osc))
	must(host.AddModule("shaper", shaper))
	must(host.AddModule("amp", amp))
	for ch := 0; ch < midicv.NumVoices*3; ch++ {
		must(host.Connect("keys", ch, "osc", ch))
	}
	must(host.Connect("osc", 0, "shaper", 0))
	must(host.Connect("osc", 1, "shaper", 1))
	must(host.Connect("shaper", 0, "amp", 0))
	must(host.Connect("shaper", 1, "amp", 1))
	must(host.SetOutput("amp"))
	return keys
}

// findMIDIModule returns the preset's first MIDI-CV module, if any.
func findMIDIModule(host *collider.Host) *midicv.Module {
	for _, name := range host.ModuleNames() {
		if m, ok := host.Module(name).(*midicv.Module); ok {
			return m
		}
	}
	return nil
}

// listenMIDI opens the named input port (or the first one) and forwards
// note and controller messages to the MIDI-CV module.
func listenMIDI(keys *midicv.Module, portName string, logger *zap.Logger) (func(), error) {
	var (
		in  drivers.In
		err error
	)
	if portName != "" {
		in, err = gomidi.FindInPort(portName)
		if err != nil {
			return nil, fmt.Errorf("find port %q: %w", portName, err)
		}
	} else {
		ports := gomidi.GetInPorts()
		if len(ports) == 0 {
			return nil, fmt.Errorf("no MIDI input ports")
		}
		in = ports[0]
	}

	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
		var channel, key, velocity, controller, value, pressure uint8
		var bend int16
		var bendAbs uint16
		switch {
		case msg.GetNoteStart(&channel, &key, &velocity):
			keys.NoteOn(int(channel), int(key), float32(velocity)/127)
		case msg.GetNoteEnd(&channel, &key):
			keys.NoteOff(int(channel), int(key))
		case msg.GetControlChange(&channel, &controller, &value):
			if controller == 1 {
				keys.SetModWheel(float32(value) / 127)
			}
		case msg.GetPitchBend(&channel, &bend, &bendAbs):
			keys.SetPitchBend(float32(bend) / 8192)
		case msg.GetAfterTouch(&channel, &pressure):
			keys.SetAftertouch(float32(pressure) / 127)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", in.String(), err)
	}
	logger.Info("MIDI input open", zap.String("port", in.String()))
	return stop, nil
}
