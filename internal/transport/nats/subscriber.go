// Package nats delivers device messages published on NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
)

// SubjectForFilter turns an MQTT style topic filter into a NATS subject
// ("dogsense/data/+" becomes "dogsense.data.*").
func SubjectForFilter(filter string) string {
	s := strings.ReplaceAll(filter, "/", ".")
	s = strings.ReplaceAll(s, "+", "*")
	return strings.ReplaceAll(s, "#", ">")
}

// TopicForSubject maps a NATS subject back to the slash separated topic the
// pipeline routes on.
func TopicForSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

type subscription interface {
	Unsubscribe() error
}

type connection interface {
	Close()
}

type Transport struct {
	url     string
	filters []string
	logger  *slog.Logger

	mu   sync.Mutex
	conn connection
	subs []subscription
}

func New(url string, filters []string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{url: url, filters: filters, logger: logger}
}

func (t *Transport) Start(ctx context.Context, deliver func(topic string, payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return errors.New("nats transport already started")
	}

	opts := []natsgo.Option{
		natsgo.Name("dogsense-ingestion"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				t.logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			t.logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, natsgo.Timeout(time.Until(deadline)))
	}

	conn, err := natsgo.Connect(t.url, opts...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", t.url, err)
	}

	handler := func(msg *natsgo.Msg) {
		deliver(TopicForSubject(msg.Subject), msg.Data)
	}
	subs := make([]subscription, 0, len(t.filters))
	for _, f := range t.filters {
		sub, err := conn.Subscribe(SubjectForFilter(f), handler)
		if err != nil {
			conn.Close()
			return fmt.Errorf("nats subscribe %s: %w", f, err)
		}
		subs = append(subs, sub)
	}

	t.conn, t.subs = conn, subs
	t.logger.Info("nats connected", slog.String("url", t.url), slog.Int("subscriptions", len(subs)))
	return nil
}

// Stop unsubscribes first so no further messages reach deliver, then closes
// the connection. Core NATS does not redeliver, so anything published while
// the service is down is lost.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}

	var errs []error
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	t.conn.Close()
	t.conn, t.subs = nil, nil
	t.logger.Info("nats disconnected")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}
