package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"dogsense/ingestion/internal/domain"
)

func testAlert() *domain.Alert {
	pet := int64(7)
	a := domain.NewAlert(&pet, "collar-1", domain.CategoryGeofenceViolation, domain.SeverityHigh)
	a.Title = "Geofence Violation"
	a.Detail = map[string]any{"geofence_name": "yard"}
	return a
}

type fakePublisher struct {
	mu       sync.Mutex
	petIDs   []*int64
	payloads [][]byte
	err      error
}

func (p *fakePublisher) PublishAlert(ctx context.Context, petID *int64, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.petIDs = append(p.petIDs, petID)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func TestRedisNotifierPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	a := testAlert()
	if err := NewRedisNotifier(pub).Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(pub.payloads) != 1 || pub.petIDs[0] == nil || *pub.petIDs[0] != 7 {
		t.Fatalf("expected one publish for pet 7")
	}
	var ev Event
	if err := json.Unmarshal(pub.payloads[0], &ev); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if ev.ID != a.ID || ev.Category != "geofence_violation" || ev.Severity != "high" || ev.Data["geofence_name"] != "yard" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRedisNotifierError(t *testing.T) {
	boom := errors.New("redis down")
	err := NewRedisNotifier(&fakePublisher{err: boom}).Notify(context.Background(), testAlert())
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped publish error", err)
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaNotifierKeysByDevice(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w, topic: "dogsense-alerts"}
	if err := n.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "collar-1" {
		t.Fatalf("got key %q, want device id", msg.Key)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[1].Value) != "high" {
		t.Fatalf("unexpected headers %v", msg.Headers)
	}
}

func TestNewKafkaNotifierDisabledWithoutBrokers(t *testing.T) {
	if n := NewKafkaNotifier(nil, "topic"); n != nil {
		t.Fatalf("expected nil notifier without brokers")
	}
	var n *KafkaNotifier
	if err := n.Close(); err != nil {
		t.Fatalf("Close on nil notifier: %v", err)
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(ctx context.Context, a *domain.Alert) error {
	c.calls++
	return c.err
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	first := &countingNotifier{err: boom}
	second := &countingNotifier{}
	logNotifier := NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := Multi{first, logNotifier, second}.Notify(context.Background(), testAlert())
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want joined error", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("every notifier should be called once, got %d and %d", first.calls, second.calls)
	}
}
