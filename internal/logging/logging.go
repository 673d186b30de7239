// Package logging builds the process-wide zap logger. It is constructed once
// at startup and handed to the components that need it; nothing in this
// repository logs through a global, and nothing logs on the audio thread.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a production logger, or a human-readable development logger
// when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return logger, nil
}
