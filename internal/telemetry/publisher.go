// internal/telemetry/publisher.go
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/report"
)

const (
	queueSize      = 32
	publishTimeout = 5 * time.Second
	publishQoS     = 1
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the JSON document published for each stored reading.
// Invalid fields are omitted.
type Message struct {
	Sensor             string    `json:"sensor"`
	Timestamp          time.Time `json:"timestamp"`
	TemperatureC       *float64  `json:"temperature_c,omitempty"`
	RelativeHumidityPc *float64  `json:"relative_humidity_pct,omitempty"`
	CO2PPM             *float64  `json:"co2_ppm,omitempty"`
}

// Publisher mirrors stored readings to an MQTT topic.
// Accepted never blocks; readings are dropped when the queue is full.
type Publisher struct {
	client Client
	topic  string
	sensor string
	log    *slog.Logger

	queue   chan Message
	dropped atomic.Uint64
	sent    atomic.Uint64
}

func New(client Client, topic, sensor string, log *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		sensor: sensor,
		log:    log,
		queue:  make(chan Message, queueSize),
	}
}

// Dial builds a paho client for cfg and starts connecting in the background.
// The returned func disconnects.
func Dial(cfg config.TelemetryConfig, sensor string, log *slog.Logger) (*Publisher, func(), error) {
	if cfg.Broker == "" {
		return nil, nil, fmt.Errorf("telemetry: broker not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)

	// With ConnectRetry the token only completes once connected; don't wait.
	client.Connect()

	stop := func() { client.Disconnect(250) }
	return New(client, cfg.Topic, sensor, log), stop, nil
}

// Accepted queues r for publishing.
func (p *Publisher) Accepted(r report.Reading) {
	msg := Message{
		Sensor:             p.sensor,
		Timestamp:          time.Unix(int64(r.Timestamp()), 0).UTC(),
		TemperatureC:       finite(r.TemperatureC()),
		RelativeHumidityPc: finite(r.RelativeHumidityPc()),
		CO2PPM:             finite(r.CO2PPM()),
	}

	select {
	case p.queue <- msg:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.Warn("telemetry queue full, dropping readings")
		}
	}
}

// Run publishes queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.publish(msg); err != nil {
				p.log.Debug("telemetry publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publish(msg Message) error {
	if !p.client.IsConnected() {
		p.dropped.Add(1)
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	token := p.client.Publish(p.topic, publishQoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}

	p.sent.Add(1)
	return nil
}

// Sent and Dropped count messages since start.
func (p *Publisher) Sent() uint64    { return p.sent.Load() }
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

func finite(v float32) *float64 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return nil
	}
	// round to the stored resolution so 21.25 stays 21.25
	f := math.Round(float64(v)*100) / 100
	return &f
}
