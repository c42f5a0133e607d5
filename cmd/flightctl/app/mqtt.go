package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttConnectRetry   = 5 * time.Second
	mqttWaitTimeout    = 5 * time.Second
	mqttQuiesce        = 250 // ms
)

// FrameInjector accepts raw protocol frames from a non-transport source.
type FrameInjector interface {
	Inject(frame []byte)
}

// Bridge publishes snapshots to an MQTT broker and feeds frames received on
// the frames topic into the link hub.
type Bridge struct {
	config   *MQTTConfig
	provider telemetry.Provider
	injector FrameInjector
	logger   *slog.Logger
	client   mqtt.Client
}

// NewBridge creates a bridge; nothing connects until Run.
func NewBridge(config *MQTTConfig, provider telemetry.Provider, injector FrameInjector, logger *slog.Logger) *Bridge {
	b := &Bridge{
		config:   config,
		provider: provider,
		injector: injector,
		logger:   logger.With(slog.String("component", "mqtt")),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(mqttConnectRetry)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = b.onConnectionLost

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *Bridge) telemetryTopic() string { return b.config.TopicPrefix + "/telemetry" }
func (b *Bridge) framesTopic() string    { return b.config.TopicPrefix + "/frames" }

// Run publishes the latest snapshot every publish interval until ctx is
// cancelled. The client keeps retrying the broker in the background and
// snapshots are skipped while it is unreachable.
func (b *Bridge) Run(ctx context.Context) error {
	b.client.Connect()
	defer b.client.Disconnect(mqttQuiesce)

	ticker := time.NewTicker(time.Duration(b.config.PublishInterval))
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !b.client.IsConnectionOpen() {
				continue
			}
			s := b.provider.Get()
			if s == nil || !s.Timestamp.After(last) {
				continue
			}
			last = s.Timestamp
			b.publish(s)
		}
	}
}

func (b *Bridge) publish(s *telemetry.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Error("failed to marshal snapshot", slog.String("error", err.Error()))
		return
	}

	// fire and forget
	b.client.Publish(b.telemetryTopic(), b.config.QoS, false, payload)
}

func (b *Bridge) onConnect(client mqtt.Client) {
	b.logger.Info("connected", slog.String("broker", b.config.Broker))

	token := client.Subscribe(b.framesTopic(), b.config.QoS, b.onFrame)
	if !token.WaitTimeout(mqttWaitTimeout) {
		b.logger.Warn("subscribe timeout", slog.String("topic", b.framesTopic()))
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Error("subscribe failed", slog.String("topic", b.framesTopic()), slog.String("error", err.Error()))
		return
	}
	b.logger.Info("subscribed", slog.String("topic", b.framesTopic()))
}

func (b *Bridge) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
}

func (b *Bridge) onFrame(_ mqtt.Client, msg mqtt.Message) {
	b.injector.Inject(msg.Payload())
}
