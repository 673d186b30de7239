// Command collider-render renders a preset offline to a WAV file.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	collider "github.com/Cignor/Collider-sub008"
	"github.com/Cignor/Collider-sub008/internal/logging"
)

func main() {
	var (
		presetPath = flag.String("preset", "", "path to a preset XML file (required)")
		outPath    = flag.String("out", "out.wav", "output WAV path")
		seconds    = flag.Float64("seconds", 8, "render length in seconds")
		sampleRate = flag.Int("sample-rate", 48000, "render sample rate")
		blockSize  = flag.Int("block-size", 256, "processing block size in samples")
		verbose    = flag.Bool("verbose", false, "human-readable debug logging")
	)
	flag.Parse()

	logger, err := logging.New(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *presetPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *seconds <= 0 {
		logger.Fatal("render length must be positive", zap.Float64("seconds", *seconds))
	}

	host := collider.NewHost(float64(*sampleRate), *blockSize, collider.WithLogger(logger))
	if err := host.LoadPresetFile(*presetPath, nil); err != nil {
		logger.Fatal("preset load failed", zap.String("path", *presetPath), zap.Error(err))
	}

	samples := host.RenderSeconds(*seconds)
	wav := collider.EncodeWAVFloat32LE(samples, *sampleRate, 2)
	if err := os.WriteFile(*outPath, wav, 0o644); err != nil {
		logger.Fatal("write failed", zap.String("path", *outPath), zap.Error(err))
	}
	logger.Info("rendered", zap.String("path", *outPath),
		zap.Float64("seconds", *seconds), zap.Int("samples", len(samples)/2))
}
