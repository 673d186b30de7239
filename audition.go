package collider

import (
	"fmt"

	"github.com/Cignor/Collider-sub008/internal/audio"
)

// Audition streams the live patch to the speakers.
type Audition struct {
	player *audio.Player
}

// StartAudition opens the audio device at the host's sample rate and starts
// streaming. Stop the returned Audition before discarding the host.
func (h *Host) StartAudition() (*Audition, error) {
	pl, err := audio.NewPlayer(int(h.sampleRate), h)
	if err != nil {
		return nil, fmt.Errorf("start audition: %w", err)
	}
	pl.Play()
	return &Audition{player: pl}, nil
}

func (a *Audition) Pause() { a.player.Pause() }

func (a *Audition) Resume() { a.player.Play() }

func (a *Audition) Stop() error { return a.player.Stop() }
