package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/rules"
	"dogsense/ingestion/internal/severity"
)

type fakeRegistry struct {
	mu      sync.Mutex
	devices map[string]*domain.Device
	lookups int
	err     error
	panics  bool
}

func (r *fakeRegistry) FindDevice(ctx context.Context, id string) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.panics {
		panic("registry exploded")
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.devices[id], nil
}

type fakeSink struct {
	mu        sync.Mutex
	readings  []*domain.TelemetryReading
	behaviors []*domain.BehaviorScoreSet
	nextID    int64
	err       error
}

func (s *fakeSink) SaveTelemetry(ctx context.Context, reading *domain.TelemetryReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.nextID++
	reading.ID = s.nextID
	s.readings = append(s.readings, reading)
	return nil
}

func (s *fakeSink) SaveBehavior(ctx context.Context, set *domain.BehaviorScoreSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.nextID++
	set.ID = s.nextID
	s.behaviors = append(s.behaviors, set)
	return nil
}

func (s *fakeSink) persisted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings) + len(s.behaviors)
}

type fakeAlertSink struct {
	mu     sync.Mutex
	alerts []*domain.Alert
	err    error
}

func (s *fakeAlertSink) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *fakeAlertSink) saved() []*domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Alert(nil), s.alerts...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*domain.Alert
}

func (n *fakeNotifier) Notify(ctx context.Context, alert *domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type fakeFences struct {
	mu     sync.Mutex
	fences []domain.Geofence
	calls  int
}

func (f *fakeFences) ActiveGeofences(ctx context.Context, petID int64) ([]domain.Geofence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []domain.Geofence
	for _, g := range f.fences {
		if g.PetID == petID && g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeHistory struct{}

func (fakeHistory) RecentBehavior(ctx context.Context, petID int64, excludeID int64, limit int) ([]domain.BehaviorScoreSet, error) {
	return nil, nil
}

type fakeState struct {
	mu      sync.Mutex
	updates map[int64]int
	err     error
}

func (s *fakeState) UpdatePetState(ctx context.Context, petID int64, reading *domain.TelemetryReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updates == nil {
		s.updates = map[int64]int{}
	}
	s.updates[petID]++
	return s.err
}

type testEnv struct {
	router   *Router
	registry *fakeRegistry
	sink     *fakeSink
	alerts   *fakeAlertSink
	notifier *fakeNotifier
	fences   *fakeFences
	state    *fakeState
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func petPtr(id int64) *int64 { return &id }

// newTestEnv wires a router over fakes. Device "abc123" is a collar on pet 7,
// "home-1" a home station and "old-1" an inactive collar.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		registry: &fakeRegistry{devices: map[string]*domain.Device{
			"abc123": {ID: "abc123", Type: domain.DeviceCollar, PetID: petPtr(7), Active: true},
			"cam-1":  {ID: "cam-1", Type: domain.DeviceCamera, PetID: petPtr(7), Active: true},
			"home-1": {ID: "home-1", Type: domain.DeviceHomeStation, Active: true},
			"old-1":  {ID: "old-1", Type: domain.DeviceCollar, PetID: petPtr(7), Active: false},
		}},
		sink:     &fakeSink{},
		alerts:   &fakeAlertSink{},
		notifier: &fakeNotifier{},
		fences: &fakeFences{fences: []domain.Geofence{
			{ID: 1, PetID: 7, Name: "home", Latitude: 52.52, Longitude: 13.405, RadiusMeters: 100, Active: true},
		}},
		state: &fakeState{},
	}

	logger := quietLogger()
	table := severity.DefaultTable()
	emitter := rules.NewEmitter(env.alerts, env.notifier, logger)
	vitals, err := rules.NewVitalsEvaluator(rules.DefaultVitalRanges(), table, emitter)
	if err != nil {
		t.Fatalf("NewVitalsEvaluator: %v", err)
	}
	behavior, err := rules.NewBehaviorEvaluator(rules.DefaultThresholds(), emitter)
	if err != nil {
		t.Fatalf("NewBehaviorEvaluator: %v", err)
	}
	handlers := NewHandlers(Deps{
		Registry:  env.registry,
		Sink:      env.sink,
		Emitter:   emitter,
		Severity:  table,
		Geofences: rules.NewGeofenceEvaluator(env.fences, emitter),
		Vitals:    vitals,
		Behavior:  behavior,
		Anomaly:   rules.NewAnomalyEvaluator(fakeHistory{}, 10, rules.DefaultAnomalyThreshold, emitter),
		State:     env.state,
		Logger:    logger,
	})
	env.router = NewRouter(handlers, logger)
	return env
}

type fakeTransport struct {
	mu       sync.Mutex
	deliver  func(topic string, payload []byte)
	startErr error
	started  int
	stopped  int
}

func (f *fakeTransport) Start(ctx context.Context, deliver func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.deliver = deliver
	return nil
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeTransport) publish(topic string, payload []byte) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	deliver(topic, payload)
}

var errBoom = errors.New("boom")

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
