package gpio

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/model"
	"github.com/thatsimonsguy/signal-controller/internal/pinctrl"
)

// Output drives and reads logical output levels. Active is the logical "on" level,
// independent of the pin's electrical polarity.
type Output interface {
	Set(pin model.GPIOPin, active bool) error
	Active(pin model.GPIOPin) (bool, error)
}

type pinDriver interface {
	Drive(pin int, high bool) error
	ReadLevel(pin int) (bool, error)
}

// PinctrlOutput is the hardware Output backed by the pinctrl CLI.
type PinctrlOutput struct {
	ctrl     pinDriver
	safeMode bool
}

func NewPinctrlOutput(ctrl *pinctrl.Controller, safeMode bool) *PinctrlOutput {
	return &PinctrlOutput{ctrl: ctrl, safeMode: safeMode}
}

func (o *PinctrlOutput) Set(pin model.GPIOPin, active bool) error {
	if o.safeMode {
		log.Debug().Int("pin", pin.Number).Bool("active", active).Msg("Safe mode: skipping GPIO write")
		return nil
	}

	if err := o.ctrl.Drive(pin.Number, pin.ActiveHigh == active); err != nil {
		return fmt.Errorf("drive pin %d: %w", pin.Number, err)
	}
	return nil
}

func (o *PinctrlOutput) Active(pin model.GPIOPin) (bool, error) {
	level, err := o.ctrl.ReadLevel(pin.Number)
	if err != nil {
		return false, err
	}
	return pin.ActiveHigh == level, nil
}

// ValidateStartupPins refuses to continue if any output is already active before the
// controller has taken ownership of it.
func ValidateStartupPins(out Output, pins map[string]model.GPIOPin) error {
	for name, pin := range pins {
		active, err := out.Active(pin)
		if err != nil {
			return fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", name, pin.Number, err)
		}
		if active {
			return fmt.Errorf("pin %d (%s) is in wrong state at startup (expected active=false)", pin.Number, name)
		}
	}
	return nil
}
