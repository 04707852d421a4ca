package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"dogsense/ingestion/internal/domain"
)

// callLog records sink and notifier calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeSink struct {
	log    *callLog
	mu     sync.Mutex
	alerts []*domain.Alert
	err    error
	// failOn makes SaveAlert fail for alerts whose Title matches.
	failOn string
}

func (s *fakeSink) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if s.log != nil {
		s.log.add("save:" + alert.ID)
	}
	if s.err != nil || (s.failOn != "" && alert.Title == s.failOn) {
		if s.err != nil {
			return s.err
		}
		return errors.New("insert failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *fakeSink) saved() []*domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Alert(nil), s.alerts...)
}

type fakeNotifier struct {
	log    *callLog
	mu     sync.Mutex
	alerts []*domain.Alert
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, alert *domain.Alert) error {
	if n.log != nil {
		n.log.add("notify:" + alert.ID)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *fakeNotifier) notified() []*domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*domain.Alert(nil), n.alerts...)
}

type fakeFences struct {
	fences []domain.Geofence
	err    error
	calls  int
}

func (f *fakeFences) ActiveGeofences(ctx context.Context, petID int64) ([]domain.Geofence, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Geofence
	for _, g := range f.fences {
		if g.PetID == petID {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeHistory struct {
	sets      []domain.BehaviorScoreSet
	err       error
	excludeID int64
	limit     int
}

func (h *fakeHistory) RecentBehavior(ctx context.Context, petID int64, excludeID int64, limit int) ([]domain.BehaviorScoreSet, error) {
	h.excludeID = excludeID
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return h.sets, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEmitter() (*Emitter, *fakeSink, *fakeNotifier, *callLog) {
	log := &callLog{}
	sink := &fakeSink{log: log}
	notifier := &fakeNotifier{log: log}
	return NewEmitter(sink, notifier, quietLogger()), sink, notifier, log
}

func f64(v float64) *float64 { return &v }
