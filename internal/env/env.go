package env

import (
	"github.com/thatsimonsguy/signal-controller/internal/actuator"
	"github.com/thatsimonsguy/signal-controller/internal/config"
)

// Process-wide handles set once in main, read by the system packages.
var (
	Cfg  *config.Config
	Bank *actuator.Bank
)
