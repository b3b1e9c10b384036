package actuator

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/gpio"
	"github.com/thatsimonsguy/signal-controller/internal/model"
)

var (
	ErrHardwareFault  = errors.New("hardware fault")
	ErrInvalidCommand = errors.New("invalid command")
)

type Pins struct {
	Green model.GPIOPin
	Red   model.GPIOPin
	Sound model.GPIOPin
}

type output int

const (
	green output = iota
	red
	sound
)

func (o output) String() string {
	switch o {
	case green:
		return "green"
	case red:
		return "red"
	default:
		return "sound"
	}
}

// Bank owns the three physical outputs and the authoritative record of their levels.
// It is not safe for concurrent use; callers serialize Apply.
type Bank struct {
	out   gpio.Output
	pins  Pins
	state model.ActuatorState
}

func NewBank(out gpio.Output, pins Pins) *Bank {
	return &Bank{out: out, pins: pins}
}

// Apply writes the levels implied by cmd. On a failed write every output already
// written is restored to its previous level and the recorded state is left unchanged.
func (b *Bank) Apply(cmd model.Command) (model.ActuatorState, error) {
	if !cmd.Valid() {
		return b.state, fmt.Errorf("%w: target=%q action=%q", ErrInvalidCommand, cmd.Target, cmd.Action)
	}

	next := b.state
	var written []output
	for _, o := range targets(cmd.Target) {
		level := cmd.Action.Level(b.level(b.state, o))
		if err := b.out.Set(b.pin(o), level); err != nil {
			b.rollback(append(written, o))
			log.Error().Err(err).
				Str("target", string(cmd.Target)).
				Str("action", string(cmd.Action)).
				Str("output", o.String()).
				Msg("Output write failed, previous levels restored")
			return b.state, fmt.Errorf("%w: %s: %v", ErrHardwareFault, o, err)
		}
		written = append(written, o)
		setLevel(&next, o, level)
	}

	b.state = next
	log.Info().
		Str("target", string(cmd.Target)).
		Str("action", string(cmd.Action)).
		Bool("green", next.Green).Bool("red", next.Red).Bool("sound", next.Sound).
		Msg("Command applied")
	return next, nil
}

func (b *Bank) Status() model.ActuatorState {
	return b.state
}

// Reset drives every output inactive. The recorded level of an output is only
// cleared once its write succeeded.
func (b *Bank) Reset() error {
	var errs []error
	for _, o := range []output{green, red, sound} {
		if err := b.out.Set(b.pin(o), false); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrHardwareFault, o, err))
			continue
		}
		setLevel(&b.state, o, false)
	}
	return errors.Join(errs...)
}

// rollback re-drives the given outputs to their recorded levels, most recent first.
func (b *Bank) rollback(outputs []output) {
	for i := len(outputs) - 1; i >= 0; i-- {
		o := outputs[i]
		if err := b.out.Set(b.pin(o), b.level(b.state, o)); err != nil {
			log.Error().Err(err).Str("output", o.String()).Msg("Failed to restore output level")
		}
	}
}

func (b *Bank) pin(o output) model.GPIOPin {
	switch o {
	case green:
		return b.pins.Green
	case red:
		return b.pins.Red
	default:
		return b.pins.Sound
	}
}

func (b *Bank) level(s model.ActuatorState, o output) bool {
	switch o {
	case green:
		return s.Green
	case red:
		return s.Red
	default:
		return s.Sound
	}
}

func setLevel(s *model.ActuatorState, o output, level bool) {
	switch o {
	case green:
		s.Green = level
	case red:
		s.Red = level
	default:
		s.Sound = level
	}
}

func targets(t model.Target) []output {
	switch t {
	case model.TargetGreen:
		return []output{green}
	case model.TargetRed:
		return []output{red}
	case model.TargetSound:
		return []output{sound}
	default:
		return []output{green, red, sound}
	}
}
