package model

import "time"

type Target string

const (
	TargetGreen Target = "GREEN_INDICATOR"
	TargetRed   Target = "RED_INDICATOR"
	TargetSound Target = "SOUND"
	TargetAll   Target = "ALL"
)

func (t Target) Valid() bool {
	switch t {
	case TargetGreen, TargetRed, TargetSound, TargetAll:
		return true
	default:
		return false
	}
}

type Action string

const (
	ActionOn     Action = "ON"
	ActionOff    Action = "OFF"
	ActionToggle Action = "TOGGLE"
)

func (a Action) Valid() bool {
	switch a {
	case ActionOn, ActionOff, ActionToggle:
		return true
	default:
		return false
	}
}

// Level returns the new output level for the action given the current one.
func (a Action) Level(current bool) bool {
	switch a {
	case ActionOn:
		return true
	case ActionOff:
		return false
	default:
		return !current
	}
}

type Command struct {
	Target Target `json:"target"`
	Action Action `json:"action"`
}

func (c Command) Valid() bool {
	return c.Target.Valid() && c.Action.Valid()
}

type ActuatorState struct {
	Green bool `json:"green"`
	Red   bool `json:"red"`
	Sound bool `json:"sound"`
}

type ConnectivityState string

const (
	Disconnected ConnectivityState = "DISCONNECTED"
	Connecting   ConnectivityState = "CONNECTING"
	Connected    ConnectivityState = "CONNECTED"
)

type NetworkAddress string

// ConnectivityStatus is the read-only view of the radio lifecycle served on /health.
type ConnectivityStatus struct {
	State       ConnectivityState `json:"state"`
	Address     NetworkAddress    `json:"address,omitempty"`
	Attempts    int               `json:"attempts"`
	NextAttempt *time.Time        `json:"next_attempt,omitempty"`
}

type Credentials struct {
	SSID     string `json:"ssid" yaml:"ssid"`
	Password string `json:"password" yaml:"password"`
}

type GPIOPin struct {
	Number     int  `json:"pin" yaml:"pin"`
	ActiveHigh bool `json:"active_high" yaml:"active_high"`
}

// Outcome of a processed command as recorded in the journal.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFaulted   Outcome = "faulted"
)

type JournalEntry struct {
	ID      int64
	Target  Target
	Action  Action
	Outcome Outcome
	State   ActuatorState
	Error   string
	At      time.Time
}

type ConnectivityEvent struct {
	ID      int64
	From    ConnectivityState
	To      ConnectivityState
	Address NetworkAddress
	At      time.Time
}
