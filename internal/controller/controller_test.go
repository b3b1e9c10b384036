package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/signal-controller/internal/actuator"
	"github.com/thatsimonsguy/signal-controller/internal/api"
	"github.com/thatsimonsguy/signal-controller/internal/connectivity"
	"github.com/thatsimonsguy/signal-controller/internal/model"
	"github.com/thatsimonsguy/signal-controller/internal/wifi"
)

type fakeConn struct {
	ticks    int
	ready    bool
	attempts int
	next     time.Time
}

func (f *fakeConn) Tick()                  { f.ticks++ }
func (f *fakeConn) IsReady() bool          { return f.ready }
func (f *fakeConn) Attempts() int          { return f.attempts }
func (f *fakeConn) NextAttempt() time.Time { return f.next }
func (f *fakeConn) State() model.ConnectivityState {
	if f.ready {
		return model.Connected
	}
	return model.Disconnected
}
func (f *fakeConn) Address() (model.NetworkAddress, error) {
	if !f.ready {
		return "", connectivity.ErrNotReady
	}
	return "192.168.11.102", nil
}

type fakeServer struct {
	listening bool
	listenErr error
	listens   int
	addr      string
	drains    []int
	order     *[]string
	status    model.ConnectivityStatus
}

func (f *fakeServer) SetConnectivity(st model.ConnectivityStatus) { f.status = st }

func (f *fakeServer) Listening() bool { return f.listening }

func (f *fakeServer) Listen(ctx context.Context, addr string) error {
	*f.order = append(*f.order, "listen")
	f.listens++
	if f.listenErr != nil {
		return f.listenErr
	}
	f.listening = true
	f.addr = addr
	return nil
}

func (f *fakeServer) Drain(limit int) int {
	*f.order = append(*f.order, "drain")
	f.drains = append(f.drains, limit)
	return 0
}

func TestStep_ListenerOpensOnlyAfterReady(t *testing.T) {
	var order []string
	conn := &fakeConn{}
	server := &fakeServer{order: &order}
	c := New(conn, server, Options{ListenAddr: "0.0.0.0:80", DrainLimit: 2})

	c.Step(context.Background())
	assert.False(t, server.listening)

	conn.ready = true
	c.Step(context.Background())
	assert.True(t, server.listening)
	assert.Equal(t, "0.0.0.0:80", server.addr)

	c.Step(context.Background())
	assert.Equal(t, 3, conn.ticks)
	assert.Equal(t, []string{"drain", "listen", "drain", "drain"}, order)
	assert.Equal(t, []int{2, 2, 2}, server.drains)
}

func TestStep_ListenFailureRetriesAfterBackoff(t *testing.T) {
	var order []string
	server := &fakeServer{order: &order, listenErr: errors.New("address in use")}
	c := New(&fakeConn{ready: true}, server, Options{ListenAddr: "0.0.0.0:80"})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Step(context.Background())
	assert.Equal(t, 1, server.listens)
	assert.False(t, server.listening)

	// still inside the first backoff window
	clock = clock.Add(500 * time.Millisecond)
	c.Step(context.Background())
	assert.Equal(t, 1, server.listens)

	clock = clock.Add(time.Second)
	c.Step(context.Background())
	assert.Equal(t, 2, server.listens)

	// second failure doubles the wait
	clock = clock.Add(1500 * time.Millisecond)
	c.Step(context.Background())
	assert.Equal(t, 2, server.listens)

	server.listenErr = nil
	clock = clock.Add(time.Second)
	c.Step(context.Background())
	assert.Equal(t, 3, server.listens)
	assert.True(t, server.listening)
	assert.Zero(t, c.listenFailures)

	c.Step(context.Background())
	assert.Equal(t, 3, server.listens)
	assert.Len(t, server.drains, 6, "every step still drains")
}

func TestStep_PublishesConnectivityStatus(t *testing.T) {
	var order []string
	next := time.Date(2026, 1, 1, 0, 0, 4, 0, time.UTC)
	conn := &fakeConn{attempts: 2, next: next}
	server := &fakeServer{order: &order}
	c := New(conn, server, Options{})

	c.Step(context.Background())
	assert.Equal(t, model.Disconnected, server.status.State)
	assert.Equal(t, 2, server.status.Attempts)
	require.NotNil(t, server.status.NextAttempt)
	assert.Equal(t, next, *server.status.NextAttempt)
	assert.Empty(t, server.status.Address)

	conn.ready = true
	conn.next = time.Time{}
	c.Step(context.Background())
	assert.Equal(t, model.Connected, server.status.State)
	assert.Equal(t, model.NetworkAddress("192.168.11.102"), server.status.Address)
	assert.Nil(t, server.status.NextAttempt)
}

func TestRun_StopsOnCancel(t *testing.T) {
	var order []string
	conn := &fakeConn{}
	c := New(conn, &fakeServer{order: &order}, Options{TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c.Run(ctx)
	assert.Greater(t, conn.ticks, 1)
}

func TestRun_KeepsLoopingWhenListenFails(t *testing.T) {
	var order []string
	conn := &fakeConn{ready: true}
	server := &fakeServer{order: &order, listenErr: errors.New("permission denied")}
	c := New(conn, server, Options{TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c.Run(ctx)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	assert.Greater(t, conn.ticks, 5)
	assert.Equal(t, conn.ticks, len(server.drains))
	assert.Equal(t, 1, server.listens, "retry waits for the backoff")
}

type fakeOutput struct {
	levels map[int]bool
}

func (f *fakeOutput) Set(pin model.GPIOPin, active bool) error {
	f.levels[pin.Number] = active
	return nil
}

func (f *fakeOutput) Active(pin model.GPIOPin) (bool, error) {
	return f.levels[pin.Number], nil
}

type fakeRadio struct {
	events chan wifi.Event
}

func (r *fakeRadio) Associate(model.Credentials) error { return nil }
func (r *fakeRadio) Events() <-chan wifi.Event         { return r.events }

func TestLoop_EndToEnd(t *testing.T) {
	out := &fakeOutput{levels: map[int]bool{}}
	bank := actuator.NewBank(out, actuator.Pins{
		Green: model.GPIOPin{Number: 2, ActiveHigh: true},
		Red:   model.GPIOPin{Number: 3, ActiveHigh: true},
		Sound: model.GPIOPin{Number: 4, ActiveHigh: true},
	})
	server := api.NewServer(bank)
	radio := &fakeRadio{events: make(chan wifi.Event, 4)}
	manager := connectivity.NewManager(radio)
	c := New(manager, server, Options{ListenAddr: "127.0.0.1:0", DrainLimit: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer server.Shutdown(context.Background())

	manager.Begin(model.Credentials{SSID: "lab"})
	c.Step(ctx)
	assert.False(t, server.Listening())

	radio.events <- wifi.Event{Kind: wifi.Associated, Address: "192.168.11.102"}
	c.Step(ctx)
	assert.True(t, server.Listening())

	reply, err := server.Submit([]byte(`{"target":"RED_INDICATOR","action":"ON"}`))
	require.NoError(t, err)
	c.Step(ctx)

	resp := <-reply
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, model.ActuatorState{Red: true}, resp.State)
	assert.True(t, out.levels[3])
	assert.Equal(t, model.ActuatorState{Red: true}, server.Snapshot())
}
