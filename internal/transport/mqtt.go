package transport

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
)

// MQTTTransport bridges the watch link over an MQTT broker. The BLE relay
// publishes watch outbound messages to pebblerun/{watch}/tophone and
// forwards everything published to pebblerun/{watch}/towatch.
type MQTTTransport struct {
	cfg    *config.MQTTConfig
	logger *zap.Logger

	inboundTopic  string
	outboundTopic string

	mu      sync.Mutex
	client  mqtt.Client
	handler MessageHandler
}

// NewMQTTTransport creates the bridge transport for one watch.
func NewMQTTTransport(cfg *config.MQTTConfig, watchID string, logger *zap.Logger) *MQTTTransport {
	return &MQTTTransport{
		cfg:           cfg,
		logger:        logger,
		inboundTopic:  fmt.Sprintf("pebblerun/%s/tophone", watchID),
		outboundTopic: fmt.Sprintf("pebblerun/%s/towatch", watchID),
	}
}

// NewWatchMQTTTransport creates the watch-side counterpart: the topic
// directions are swapped so a watch emulator can talk to a running bridge.
func NewWatchMQTTTransport(cfg *config.MQTTConfig, watchID string, logger *zap.Logger) *MQTTTransport {
	return &MQTTTransport{
		cfg:           cfg,
		logger:        logger,
		inboundTopic:  fmt.Sprintf("pebblerun/%s/towatch", watchID),
		outboundTopic: fmt.Sprintf("pebblerun/%s/tophone", watchID),
	}
}

// Open connects to the broker and subscribes to the watch's inbound topic.
func (t *MQTTTransport) Open(ctx context.Context, handler MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.client.IsConnected() {
		t.handler = handler
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(t.cfg.ClientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	// Reconnection policy lives in the connection manager, not the broker client.
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	t.client = client
	t.handler = handler

	if token := client.Subscribe(t.inboundTopic, t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(msg.Payload())
		}
	}); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		t.client = nil
		return fmt.Errorf("failed to subscribe to topic %s: %w", t.inboundTopic, token.Error())
	}

	t.logger.Info("MQTT transport opened",
		zap.String("broker", t.cfg.Broker),
		zap.String("inbound_topic", t.inboundTopic),
	)
	return nil
}

// Send publishes one payload to the watch topic and waits for broker
// confirmation.
func (t *MQTTTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrClosed
	}

	token := client.Publish(t.outboundTopic, t.cfg.QoS, false, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if token.Error() != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, token.Error())
	}
	return nil
}

// Alive reports whether the broker connection is up.
func (t *MQTTTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnected()
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}

	if t.client.IsConnected() {
		if token := t.client.Unsubscribe(t.inboundTopic); token.Wait() && token.Error() != nil {
			t.logger.Warn("Failed to unsubscribe", zap.Error(token.Error()))
		}
		t.client.Disconnect(250)
	}
	t.client = nil
	t.handler = nil

	t.logger.Info("MQTT transport closed")
	return nil
}
