package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 100
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Serial   string
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	serial string
	log    logrus.FieldLogger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	reconnect bool // set after the first successful connect
}

// NewRealPublisher connects to the broker. A retained OFFLINE message is
// registered as the will on the system topic.
func NewRealPublisher(opts Options, log logrus.FieldLogger) (*RealPublisher, error) {
	log = logging.Component(log, "mqtt")
	if opts.ClientID == "" {
		opts.ClientID = "doorbell-" + topicSerial(opts.Serial)
	}

	p := &RealPublisher{
		serial: opts.Serial,
		log:    log,
		buf:    newRingBuffer(bufferCapacity),
	}
	p.buf.log = log

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(SystemTopic(opts.Serial), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	wasReconnect := p.reconnect
	p.reconnect = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if wasReconnect {
		p.log.WithField("buffered", len(pending)).Info("mqtt reconnected")
		if payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected}); err == nil {
			pending = append(pending, bufferedMsg{topic: SystemTopic(p.serial), payload: payload, qos: 1})
		}
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.WithError(err).Warn("mqtt connection lost")
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishRing sends a ring event at QoS 1.
func (p *RealPublisher) PublishRing(event RingEvent) error {
	payload, err := FormatRingPayload(event)
	if err != nil {
		return fmt.Errorf("format ring payload: %w", err)
	}
	return p.publish(RingTopic(event.Serial), 1, false, payload)
}

// PublishSystem sends a lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	serial := event.Serial
	if serial == "" {
		serial = p.serial
	}
	return p.publish(SystemTopic(serial), 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
