package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "signal/state", Topic("signal", "state"))
	assert.Equal(t, "home/lab/availability", Topic("home/lab/", "availability"))
}

func TestPayloads(t *testing.T) {
	assert.JSONEq(t, `{"green":true,"red":false,"sound":true}`, string(StatePayload(model.ActuatorState{Green: true, Sound: true})))
	assert.JSONEq(t, `{"state":"CONNECTED","address":"192.168.11.102"}`, string(ConnectivityPayload(model.Connected, "192.168.11.102")))
	assert.JSONEq(t, `{"state":"DISCONNECTED"}`, string(ConnectivityPayload(model.Disconnected, "")))
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.PublishState(model.ActuatorState{})
		p.PublishConnectivity(model.Connecting, "")
		p.Disconnect()
		p.Connect()
	})
}

func TestPublisher_SkipsWhileDisconnected(t *testing.T) {
	p := NewPublisher(Options{Broker: "tcp://127.0.0.1:1", ClientID: "test", TopicPrefix: "signal/"})
	assert.Equal(t, "signal", p.prefix)
	assert.NotPanics(t, func() { p.PublishState(model.ActuatorState{Red: true}) })
}
