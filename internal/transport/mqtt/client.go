// Package mqtt adapts an MQTT broker connection to the ingestion pipeline.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Options struct {
	BrokerURL string
	ClientID  string
	QoS       byte
	Topics    []string
}

// Transport subscribes to the configured topic filters and forwards every
// message. paho reconnects on its own; subscriptions are renewed on each
// (re)connect. The session is persistent, so the broker keeps queuing QoS 1
// and 2 messages for the client id while the service is down.
type Transport struct {
	opts      Options
	logger    *slog.Logger
	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
}

func New(opts Options, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QoS > 2 {
		opts.QoS = 1
	}
	return &Transport{opts: opts, logger: logger, newClient: paho.NewClient}
}

// filters maps every topic filter to the configured QoS.
func (t *Transport) filters() map[string]byte {
	f := make(map[string]byte, len(t.opts.Topics))
	for _, topic := range t.opts.Topics {
		f[topic] = t.opts.QoS
	}
	return f
}

func (t *Transport) clientOptions(deliver func(topic string, payload []byte)) *paho.ClientOptions {
	onMessage := func(_ paho.Client, msg paho.Message) {
		deliver(msg.Topic(), msg.Payload())
	}

	return paho.NewClientOptions().
		AddBroker(t.opts.BrokerURL).
		SetClientID(t.opts.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			tok := c.SubscribeMultiple(t.filters(), onMessage)
			tok.Wait()
			if err := tok.Error(); err != nil {
				t.logger.Error("mqtt subscribe failed", slog.String("error", err.Error()))
				return
			}
			t.logger.Info("mqtt connected", slog.String("broker", t.opts.BrokerURL), slog.Any("topics", t.opts.Topics))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			t.logger.Info("mqtt reconnecting", slog.String("broker", t.opts.BrokerURL))
		})
}

// Start connects and waits for the first connection until ctx is done.
func (t *Transport) Start(ctx context.Context, deliver func(topic string, payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return errors.New("mqtt transport already started")
	}

	client := t.newClient(t.clientOptions(deliver))
	tok := client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", t.opts.BrokerURL, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: %w", t.opts.BrokerURL, ctx.Err())
	}
	t.client = client
	return nil
}

// Stop disconnects, giving paho up to a second to finish in-flight
// acknowledgements. Subscriptions stay on the broker with the session.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	quiesce := uint(1000)
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < time.Second {
			quiesce = uint(max(left.Milliseconds(), 0))
		}
	}
	t.client.Disconnect(quiesce)
	t.client = nil
	t.logger.Info("mqtt disconnected")
	return nil
}
