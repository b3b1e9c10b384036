package wifi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

type EventKind int

const (
	Associated EventKind = iota
	Lost
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Associated:
		return "associated"
	case Lost:
		return "lost"
	default:
		return "failed"
	}
}

// Event is a link-layer notification queued by the radio for the next scheduling turn.
type Event struct {
	Kind    EventKind
	Address model.NetworkAddress
	Err     error
}

// Radio starts association attempts and reports link changes through an inbox channel.
// Associate must return promptly; the outcome arrives later as an Event.
type Radio interface {
	Associate(creds model.Credentials) error
	Events() <-chan Event
}

// Runner executes wpa_cli with the given arguments.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func execRunner(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "wpa_cli", args...).Output()
}

const (
	inboxSize        = 16
	commandTimeout   = 2 * time.Second
	associateTimeout = 5 * time.Second
)

var (
	errCommandFailed = errors.New("wpa_cli command failed")
	errAssociating   = errors.New("association already in progress")
)

// WpaCli drives a wpa_supplicant-managed interface. Link state is polled by Watch and
// pushed into the event inbox on transitions.
type WpaCli struct {
	iface  string
	run    Runner
	events chan Event
	linked bool

	associating atomic.Bool
}

func NewWpaCli(iface string) *WpaCli {
	return NewWpaCliWithRunner(iface, execRunner)
}

func NewWpaCliWithRunner(iface string, run Runner) *WpaCli {
	return &WpaCli{
		iface:  iface,
		run:    run,
		events: make(chan Event, inboxSize),
	}
}

func (w *WpaCli) Events() <-chan Event {
	return w.events
}

// Associate starts replacing any configured network with the given credentials
// and returns immediately. A failed sequence is reported as a Failed event; a
// successful one is reported by Watch once the link is up.
func (w *WpaCli) Associate(creds model.Credentials) error {
	if !w.associating.CompareAndSwap(false, true) {
		return errAssociating
	}
	go func() {
		defer w.associating.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), associateTimeout)
		defer cancel()
		if err := w.associate(ctx, creds); err != nil {
			w.push(Event{Kind: Failed, Err: err})
		}
	}()
	return nil
}

// associate runs the wpa_cli sequence under a single deadline.
func (w *WpaCli) associate(ctx context.Context, creds model.Credentials) error {
	if _, err := w.commandContext(ctx, "remove_network", "all"); err != nil {
		return err
	}

	out, err := w.commandContext(ctx, "add_network")
	if err != nil {
		return err
	}
	id := strings.TrimSpace(out)
	if _, err := strconv.Atoi(id); err != nil {
		return fmt.Errorf("unexpected add_network output %q", id)
	}

	steps := [][]string{{"set_network", id, "ssid", strconv.Quote(creds.SSID)}}
	if creds.Password == "" {
		steps = append(steps, []string{"set_network", id, "key_mgmt", "NONE"})
	} else {
		steps = append(steps, []string{"set_network", id, "psk", strconv.Quote(creds.Password)})
	}
	steps = append(steps, []string{"enable_network", id}, []string{"select_network", id})

	for _, step := range steps {
		out, err := w.commandContext(ctx, step...)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) != "OK" {
			return fmt.Errorf("%w: %s", errCommandFailed, step[0])
		}
	}

	log.Info().Str("interface", w.iface).Str("ssid", creds.SSID).Msg("Association requested")
	return nil
}

// Watch polls the link state until ctx is cancelled.
func (w *WpaCli) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *WpaCli) poll() {
	out, err := w.command("status")
	if err != nil {
		if w.linked {
			w.linked = false
			w.push(Event{Kind: Lost, Err: err})
		}
		return
	}

	status := parseStatus(out)
	up := status["wpa_state"] == "COMPLETED" && status["ip_address"] != ""
	switch {
	case up && !w.linked:
		w.linked = true
		w.push(Event{Kind: Associated, Address: model.NetworkAddress(status["ip_address"])})
	case !up && w.linked:
		w.linked = false
		w.push(Event{Kind: Lost})
	}
}

// push never blocks; a full inbox means the loop is behind and the event is dropped.
func (w *WpaCli) push(ev Event) {
	select {
	case w.events <- ev:
	default:
		log.Warn().Str("event", ev.Kind.String()).Msg("Radio event inbox full, dropping event")
	}
}

func (w *WpaCli) command(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return w.commandContext(ctx, args...)
}

func (w *WpaCli) commandContext(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-i", w.iface}, args...)
	out, err := w.run(ctx, full...)
	if err != nil {
		return "", fmt.Errorf("wpa_cli %s: %w", args[0], err)
	}
	return string(out), nil
}

func parseStatus(out string) map[string]string {
	result := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewBufferString(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return result
}
