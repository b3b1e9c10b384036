package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/signal-controller/internal/actuator"
	"github.com/thatsimonsguy/signal-controller/internal/model"
)

type fakeOutput struct {
	levels map[int]bool
	writes int
	failOn int
}

func (f *fakeOutput) Set(pin model.GPIOPin, active bool) error {
	f.writes++
	if f.writes == f.failOn {
		return errors.New("pin stuck")
	}
	f.levels[pin.Number] = active
	return nil
}

func (f *fakeOutput) Active(pin model.GPIOPin) (bool, error) {
	return f.levels[pin.Number], nil
}

func setupTestServer(t *testing.T) (*Server, *actuator.Bank, *fakeOutput) {
	t.Helper()
	out := &fakeOutput{levels: map[int]bool{}}
	bank := actuator.NewBank(out, actuator.Pins{
		Green: model.GPIOPin{Number: 2, ActiveHigh: true},
		Red:   model.GPIOPin{Number: 3, ActiveHigh: true},
		Sound: model.GPIOPin{Number: 4, ActiveHigh: true},
	})
	return NewServer(bank), bank, out
}

// post runs the HTTP handler while draining the inbox the way the scheduling loop does.
func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/update", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		s.Drain(4)
		select {
		case <-done:
			return w
		case <-deadline:
			t.Fatal("request was never processed")
		case <-time.After(time.Millisecond):
		}
	}
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) model.ActuatorState {
	t.Helper()
	var state model.ActuatorState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	return state
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    model.Command
		wantErr bool
	}{
		{"red on", `{"target":"RED_INDICATOR","action":"ON"}`, model.Command{Target: model.TargetRed, Action: model.ActionOn}, false},
		{"all toggle", `{"action":"TOGGLE","target":"ALL"}`, model.Command{Target: model.TargetAll, Action: model.ActionToggle}, false},
		{"extra fields ignored", `{"target":"SOUND","action":"OFF","details":"x"}`, model.Command{Target: model.TargetSound, Action: model.ActionOff}, false},
		{"missing action", `{"target":"SOUND"}`, model.Command{}, true},
		{"missing target", `{"action":"ON"}`, model.Command{}, true},
		{"unknown target", `{"target":"PURPLE_LED","action":"ON"}`, model.Command{}, true},
		{"unknown action", `{"target":"SOUND","action":"BLINK"}`, model.Command{}, true},
		{"lower case", `{"target":"sound","action":"on"}`, model.Command{}, true},
		{"wrong type", `{"target":1,"action":"ON"}`, model.Command{}, true},
		{"not json", `target=SOUND`, model.Command{}, true},
		{"empty", ``, model.Command{}, true},
		{"null", `null`, model.Command{}, true},
		{"array", `[]`, model.Command{}, true},
		{"trailing data", `{"target":"SOUND","action":"ON"}{}`, model.Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cmd := model.Command{Target: model.TargetGreen, Action: model.ActionToggle}
	got, err := Decode(Encode(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestUpdate_RedOnFromAllOff(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := post(t, server, `{"target":"RED_INDICATOR","action":"ON"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"green":false,"red":true,"sound":false}`, w.Body.String())
}

func TestUpdate_SoundToggleTwice(t *testing.T) {
	server, bank, _ := setupTestServer(t)

	w := post(t, server, `{"target":"SOUND","action":"TOGGLE"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeState(t, w).Sound)

	w = post(t, server, `{"target":"SOUND","action":"TOGGLE"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ActuatorState{}, decodeState(t, w))
	assert.Equal(t, model.ActuatorState{}, bank.Status())
}

func TestUpdate_AllOnThenStatus(t *testing.T) {
	server, bank, _ := setupTestServer(t)

	w := post(t, server, `{"target":"ALL","action":"ON"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ActuatorState{Green: true, Red: true, Sound: true}, bank.Status())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"green":true,"red":true,"sound":true}`, rec.Body.String())
}

func TestUpdate_MalformedLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown target", `{"target":"PURPLE_LED","action":"ON"}`},
		{"missing action", `{"target":"SOUND"}`},
		{"invalid json", `invalid json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, bank, out := setupTestServer(t)
			_, err := bank.Apply(model.Command{Target: model.TargetGreen, Action: model.ActionOn})
			require.NoError(t, err)
			before := bank.Status()
			writes := out.writes

			w := post(t, server, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.NotEmpty(t, response.Error)
			assert.Equal(t, before, bank.Status())
			assert.Equal(t, writes, out.writes, "no output may be written")
		})
	}
}

func TestUpdate_HardwareFaultRollsBack(t *testing.T) {
	server, bank, out := setupTestServer(t)
	out.failOn = 2

	w := post(t, server, `{"target":"ALL","action":"ON"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Hardware fault", response.Error)
	assert.Equal(t, model.ActuatorState{}, bank.Status())
	assert.False(t, out.levels[2], "green restored")
	assert.False(t, out.levels[4], "sound never driven")
}

func TestUpdate_MethodNotAllowed(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/update", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Zero(t, server.Drain(1))
}

func TestUpdate_OversizeBody(t *testing.T) {
	server, _, _ := setupTestServer(t)

	body := `{"target":"SOUND","action":"ON","pad":"` + strings.Repeat("x", 2048) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/update", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDrain_SerializesInOrder(t *testing.T) {
	server, bank, _ := setupTestServer(t)

	var seen []model.Command
	server.OnResult(func(raw []byte, resp Response) {
		seen = append(seen, resp.Command)
	})

	bodies := []string{
		`{"target":"GREEN_INDICATOR","action":"ON"}`,
		`{"target":"GREEN_INDICATOR","action":"TOGGLE"}`,
		`{"target":"RED_INDICATOR","action":"ON"}`,
	}
	var replies []<-chan Response
	for _, b := range bodies {
		reply, err := server.Submit([]byte(b))
		require.NoError(t, err)
		replies = append(replies, reply)
	}

	assert.Equal(t, 2, server.Drain(2))
	assert.Equal(t, 1, server.Drain(2))
	assert.Equal(t, 0, server.Drain(2))

	assert.True(t, (<-replies[0]).State.Green)
	assert.False(t, (<-replies[1]).State.Green)
	assert.Equal(t, model.ActuatorState{Red: true}, (<-replies[2]).State)
	assert.Equal(t, model.ActuatorState{Red: true}, bank.Status())
	require.Len(t, seen, 3)
	assert.Equal(t, model.TargetRed, seen[2].Target)
}

func TestSubmit_InboxFull(t *testing.T) {
	server, _, _ := setupTestServer(t)

	for i := 0; i < defaultInboxSize; i++ {
		_, err := server.Submit([]byte(`{}`))
		require.NoError(t, err)
	}
	_, err := server.Submit([]byte(`{}`))
	assert.ErrorIs(t, err, ErrBusy)
}

func TestListen_ServesAfterReadiness(t *testing.T) {
	server, _, _ := setupTestServer(t)
	assert.False(t, server.Listening())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, server.Listen(ctx, "127.0.0.1:0"))
	assert.True(t, server.Listening())
	require.NoError(t, server.Shutdown(ctx))
}

func TestHealth_ReportsConnectivityAndClients(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connectivity":{"state":"DISCONNECTED","attempts":0},"state":{"green":false,"red":false,"sound":false},"ws_clients":0}`, rec.Body.String())

	next := time.Date(2026, 1, 1, 0, 0, 4, 0, time.UTC)
	server.SetConnectivity(model.ConnectivityStatus{State: model.Disconnected, Attempts: 3, NextAttempt: &next})

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, 3, health.Connectivity.Attempts)
	require.NotNil(t, health.Connectivity.NextAttempt)
	assert.True(t, next.Equal(*health.Connectivity.NextAttempt))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
