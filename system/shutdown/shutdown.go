package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/env"
)

// Resetter drives every output inactive.
type Resetter interface {
	Reset() error
}

// SafeOutputs drives all outputs inactive, logging rather than stopping on failure.
func SafeOutputs(bank Resetter) error {
	if bank == nil {
		return nil
	}
	if err := bank.Reset(); err != nil {
		log.Error().Err(err).Msg("Failed to drive outputs inactive")
		return err
	}
	log.Info().Msg("All outputs driven inactive")
	return nil
}

// ShutdownWithError logs err, drives outputs inactive and exits non-zero.
func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(exitCode(1))
}

func exitCode(code int) int {
	if env.Bank == nil {
		return code
	}
	if err := SafeOutputs(env.Bank); err != nil {
		return 1
	}
	return code
}
