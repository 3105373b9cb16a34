package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"indicam/pkg/history"
)

const (
	DefaultTopicRoot = "indicam"
	captureTopic     = "/capture"

	publishTimeout = 5 * time.Second
)

type Config struct {
	Broker    string
	Username  string
	Password  string
	TopicRoot string
	ClientID  string
}

// client is the subset of mqtt.Client used by the Publisher.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends capture records to an MQTT broker.
type Publisher struct {
	client client
	topic  string
	logger log.FieldLogger
}

// Connect creates an MQTT client for cfg and connects it to the broker.
func Connect(cfg Config, logger log.FieldLogger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("broker cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "indicam"
	}

	opts := mqtt.NewClientOptions()
	opts.SetClientID(cfg.ClientID)
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return newPublisher(c, cfg.TopicRoot, logger), nil
}

func newPublisher(c client, topicRoot string, logger log.FieldLogger) *Publisher {
	if topicRoot == "" {
		topicRoot = DefaultTopicRoot
	}
	return &Publisher{
		client: c,
		topic:  topicRoot + captureTopic,
		logger: logger.WithField("component", "notify"),
	}
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends the record as json to the capture topic.
func (p *Publisher) Publish(r history.Record) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %v", err)
	}

	token := p.client.Publish(p.topic, 0, false, msg)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish record: %v", err)
	}

	p.logger.Debugf("Published run %s to %s", r.RunID, p.topic)
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
