package connectivity

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/model"
	"github.com/thatsimonsguy/signal-controller/internal/wifi"
)

var ErrNotReady = errors.New("network not ready")

const (
	DefaultBackoffInitial = 1 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultAttemptTimeout = 15 * time.Second
)

// Backoff returns the delay before the next attempt after the given number of
// consecutive failures: initial doubled per failure, never above ceiling.
func Backoff(failures int, initial, ceiling time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	if initial >= ceiling {
		return ceiling
	}
	delay := initial
	for i := 0; i < failures; i++ {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

type StateListener func(from, to model.ConnectivityState, addr model.NetworkAddress)

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithBackoff(initial, ceiling time.Duration) Option {
	return func(m *Manager) {
		if initial > 0 {
			m.backoffInitial = initial
		}
		if ceiling > 0 {
			m.backoffMax = ceiling
		}
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.attemptTimeout = d
		}
	}
}

func WithStateListener(l StateListener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// Manager owns the association lifecycle. All methods are called from the
// scheduling loop; it is not safe for concurrent use.
type Manager struct {
	radio wifi.Radio
	now   func() time.Time

	backoffInitial time.Duration
	backoffMax     time.Duration
	attemptTimeout time.Duration
	listeners      []StateListener

	creds    model.Credentials
	begun    bool
	state    model.ConnectivityState
	addr     model.NetworkAddress
	failures int
	attempts int

	nextAttempt time.Time
	deadline    time.Time
}

func NewManager(radio wifi.Radio, opts ...Option) *Manager {
	m := &Manager{
		radio:          radio,
		now:            time.Now,
		backoffInitial: DefaultBackoffInitial,
		backoffMax:     DefaultBackoffMax,
		attemptTimeout: DefaultAttemptTimeout,
		state:          model.Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin records the credentials and starts the first association attempt.
func (m *Manager) Begin(creds model.Credentials) {
	m.creds = creds
	m.begun = true
	m.failures = 0
	m.attempt(m.now())
}

func (m *Manager) IsReady() bool {
	return m.state == model.Connected
}

func (m *Manager) Address() (model.NetworkAddress, error) {
	if !m.IsReady() {
		return "", ErrNotReady
	}
	return m.addr, nil
}

func (m *Manager) State() model.ConnectivityState {
	return m.state
}

// Attempts is the total number of association attempts started since boot.
func (m *Manager) Attempts() int {
	return m.attempts
}

// NextAttempt is when the next association attempt is due; zero while connected or connecting.
func (m *Manager) NextAttempt() time.Time {
	if m.state != model.Disconnected {
		return time.Time{}
	}
	return m.nextAttempt
}

// Tick drains queued radio events, expires a stalled attempt and starts the next
// attempt once its backoff delay has elapsed.
func (m *Manager) Tick() {
	now := m.now()

	events := m.radio.Events()
	for pending := len(events); pending > 0; pending-- {
		m.handle(<-events, now)
	}

	if !m.begun {
		return
	}

	switch m.state {
	case model.Connecting:
		if !now.Before(m.deadline) {
			log.Warn().Int("failures", m.failures+1).Msg("Association attempt timed out")
			m.fail(now)
		}
	case model.Disconnected:
		if !now.Before(m.nextAttempt) {
			m.attempt(now)
		}
	}
}

func (m *Manager) handle(ev wifi.Event, now time.Time) {
	switch ev.Kind {
	case wifi.Associated:
		if m.state == model.Connected && m.addr == ev.Address {
			return
		}
		m.failures = 0
		m.addr = ev.Address
		m.transition(model.Connected)
		log.Info().Str("address", string(ev.Address)).Msg("Network ready")
	case wifi.Lost:
		if m.state != model.Connected {
			return
		}
		m.addr = ""
		m.nextAttempt = now.Add(Backoff(0, m.backoffInitial, m.backoffMax))
		m.failures = 1
		m.transition(model.Disconnected)
		log.Warn().Err(ev.Err).Time("next_attempt", m.nextAttempt).Msg("Association lost, reconnect scheduled")
	case wifi.Failed:
		if m.state != model.Connecting {
			return
		}
		log.Warn().Err(ev.Err).Int("failures", m.failures+1).Msg("Association attempt failed")
		m.fail(now)
	}
}

func (m *Manager) attempt(now time.Time) {
	m.attempts++
	m.deadline = now.Add(m.attemptTimeout)
	m.transition(model.Connecting)

	if err := m.radio.Associate(m.creds); err != nil {
		log.Warn().Err(err).Int("failures", m.failures+1).Msg("Association attempt could not start")
		m.fail(now)
	}
}

func (m *Manager) fail(now time.Time) {
	delay := Backoff(m.failures, m.backoffInitial, m.backoffMax)
	m.failures++
	m.nextAttempt = now.Add(delay)
	m.transition(model.Disconnected)
	log.Debug().Dur("delay", delay).Int("failures", m.failures).Msg("Next association attempt scheduled")
}

func (m *Manager) transition(to model.ConnectivityState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	for _, l := range m.listeners {
		l(from, to, m.addr)
	}
}
