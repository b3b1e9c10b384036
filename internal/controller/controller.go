package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/connectivity"
	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// Connectivity is the radio lifecycle the loop advances every step.
type Connectivity interface {
	Tick()
	IsReady() bool
	Address() (model.NetworkAddress, error)
	State() model.ConnectivityState
	Attempts() int
	NextAttempt() time.Time
}

// CommandServer is the command endpoint the loop opens and drains.
type CommandServer interface {
	Listening() bool
	Listen(ctx context.Context, addr string) error
	Drain(limit int) int
	SetConnectivity(st model.ConnectivityStatus)
}

const (
	listenRetryInitial = time.Second
	listenRetryMax     = 30 * time.Second
)

type Options struct {
	ListenAddr   string
	TickInterval time.Duration
	DrainLimit   int
}

// Controller is the cooperative scheduling loop. Every step advances
// connectivity, opens the command listener once the network is ready, then
// processes a bounded number of queued commands. Actuator state is only ever
// touched from here.
type Controller struct {
	conn   Connectivity
	server CommandServer
	opts   Options
	now    func() time.Time
	steps  uint64

	listenFailures int
	nextListen     time.Time
}

func New(conn Connectivity, server CommandServer, opts Options) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.DrainLimit <= 0 {
		opts.DrainLimit = 4
	}
	return &Controller{conn: conn, server: server, opts: opts, now: time.Now}
}

// Step runs one pass of the loop and never blocks on I/O. No failure inside a
// step stops the loop.
func (c *Controller) Step(ctx context.Context) {
	c.steps++
	c.conn.Tick()
	c.server.SetConnectivity(c.connectivityStatus())

	if !c.server.Listening() && c.conn.IsReady() {
		c.openListener(ctx)
	}

	if n := c.server.Drain(c.opts.DrainLimit); n > 0 {
		log.Debug().Int("handled", n).Uint64("step", c.steps).Msg("Drained command inbox")
	}
}

func (c *Controller) connectivityStatus() model.ConnectivityStatus {
	st := model.ConnectivityStatus{
		State:    c.conn.State(),
		Attempts: c.conn.Attempts(),
	}
	if addr, err := c.conn.Address(); err == nil {
		st.Address = addr
	}
	if next := c.conn.NextAttempt(); !next.IsZero() {
		st.NextAttempt = &next
	}
	return st
}

// openListener tries to open the command listener. A failure is retried on a
// later step after a capped backoff; the loop keeps running either way.
func (c *Controller) openListener(ctx context.Context) {
	now := c.now()
	if now.Before(c.nextListen) {
		return
	}

	addr, _ := c.conn.Address()
	log.Info().Str("address", string(addr)).Msg("Network ready, opening command listener")
	if err := c.server.Listen(ctx, c.opts.ListenAddr); err != nil {
		delay := connectivity.Backoff(c.listenFailures, listenRetryInitial, listenRetryMax)
		c.listenFailures++
		c.nextListen = now.Add(delay)
		log.Error().Err(err).
			Str("listen_addr", c.opts.ListenAddr).
			Int("failures", c.listenFailures).
			Dur("retry_in", delay).
			Msg("Failed to open command listener")
		return
	}
	c.listenFailures = 0
	c.nextListen = time.Time{}
}

// Run steps the loop every tick interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	log.Info().
		Dur("tick_interval", c.opts.TickInterval).
		Int("drain_limit", c.opts.DrainLimit).
		Msg("Starting scheduling loop")

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	for {
		c.Step(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduling loop stopped")
			return
		case <-ticker.C:
		}
	}
}
