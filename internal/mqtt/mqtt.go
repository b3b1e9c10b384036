package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

const (
	stateTopic        = "state"
	connectivityTopic = "connectivity"
	availabilityTopic = "availability"
	publishTimeout    = 5 * time.Second
)

type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher mirrors actuator and connectivity state to retained MQTT topics.
// A nil *Publisher is a no-op.
type Publisher struct {
	client paho.Client
	prefix string
}

func NewPublisher(opts Options) *Publisher {
	prefix := strings.TrimSuffix(opts.TopicPrefix, "/")

	co := paho.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetKeepAlive(10 * time.Second)
	co.SetPingTimeout(5 * time.Second)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(time.Minute)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetWill(Topic(prefix, availabilityTopic), "offline", 1, true)

	p := &Publisher{prefix: prefix}
	co.SetOnConnectHandler(func(c paho.Client) {
		log.Info().Str("broker", opts.Broker).Msg("MQTT connected")
		p.publish(availabilityTopic, []byte("online"))
	})
	co.SetConnectionLostHandler(func(c paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, retrying in background")
	})

	p.client = paho.NewClient(co)
	return p
}

// Connect starts the background connection loop and returns immediately. With
// connect-retry enabled the token only completes once a broker answers, so a
// missing broker never blocks the caller.
func (p *Publisher) Connect() {
	if p == nil {
		return
	}
	token := p.client.Connect()
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Msg("MQTT connect failed")
		}
	}()
}

func (p *Publisher) Disconnect() {
	if p == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(Topic(p.prefix, availabilityTopic), 1, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		log.Warn().Msg("Timed out publishing MQTT offline status")
	}
	p.client.Disconnect(250)
	log.Info().Msg("MQTT disconnected")
}

func (p *Publisher) PublishState(s model.ActuatorState) {
	if p == nil {
		return
	}
	p.publish(stateTopic, StatePayload(s))
}

func (p *Publisher) PublishConnectivity(state model.ConnectivityState, addr model.NetworkAddress) {
	if p == nil {
		return
	}
	p.publish(connectivityTopic, ConnectivityPayload(state, addr))
}

func (p *Publisher) publish(subtopic string, payload []byte) {
	if !p.client.IsConnected() {
		return
	}
	topic := Topic(p.prefix, subtopic)
	token := p.client.Publish(topic, 1, true, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", topic).Msg("Timeout publishing MQTT message")
		} else if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func Topic(prefix, subtopic string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + subtopic
}

func StatePayload(s model.ActuatorState) []byte {
	b, _ := json.Marshal(s)
	return b
}

func ConnectivityPayload(state model.ConnectivityState, addr model.NetworkAddress) []byte {
	b, _ := json.Marshal(struct {
		State   model.ConnectivityState `json:"state"`
		Address model.NetworkAddress    `json:"address,omitempty"`
	}{state, addr})
	return b
}
