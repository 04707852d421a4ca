package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dogsense/ingestion/internal/metrics"
)

// Transport delivers (topic, payload) pairs from the broker. Connection and
// reconnect handling belong to the transport.
type Transport interface {
	Start(ctx context.Context, deliver func(topic string, payload []byte)) error
	Stop(ctx context.Context) error
}

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type ServiceConfig struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	HandlerTimeout time.Duration
}

// Service owns the transport and the dispatcher that feeds the router.
type Service struct {
	transport Transport
	router    *Router
	cfg       ServiceConfig
	logger    *slog.Logger

	mu         sync.Mutex
	state      atomic.Int32
	dispatcher atomic.Pointer[Dispatcher]
}

func NewService(transport Transport, router *Router, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{transport: transport, router: router, cfg: cfg, logger: logger}
}

func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Info("ingestion service state", slog.String("state", st.String()))
}

// Start brings up the workers, then the transport. Starting a running service
// is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateStopped {
		return nil
	}
	s.setState(StateStarting)

	d := NewDispatcher(s.router.Dispatch, s.cfg.Workers, s.cfg.QueueSize, s.cfg.HandlerTimeout, s.logger)
	d.Start()
	s.dispatcher.Store(d)

	if err := s.transport.Start(ctx, s.deliver); err != nil {
		_ = d.Stop(ctx)
		s.dispatcher.Store(nil)
		s.setState(StateStopped)
		return fmt.Errorf("start transport: %w", err)
	}
	s.setState(StateRunning)
	return nil
}

// Stop stops the transport so no new messages arrive, then waits for queued
// and in-flight messages until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateRunning {
		return nil
	}
	s.setState(StateStopping)

	var errs []error
	if err := s.transport.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}
	if d := s.dispatcher.Load(); d != nil {
		if err := d.Stop(ctx); err != nil {
			s.logger.Warn("shutdown timed out before queues drained", slog.Int("pending", d.Pending()))
			errs = append(errs, fmt.Errorf("drain dispatcher: %w", err))
		}
	}
	s.setState(StateStopped)
	return errors.Join(errs...)
}

// Submit hands a message to the dispatcher, waiting at most the enqueue
// timeout for queue space. Messages are refused once shutdown begins.
func (s *Service) Submit(topic string, payload []byte) error {
	metrics.MessagesReceived.Add(1)
	d := s.dispatcher.Load()
	if st := s.State(); d == nil || st == StateStopping || st == StateStopped {
		metrics.QueueRejects.Add(1)
		return ErrNotRunning
	}
	ctx := context.Background()
	if s.cfg.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
		defer cancel()
	}
	msg := Message{Topic: topic, Payload: payload, ReceivedAt: time.Now().UTC()}
	return d.Submit(ctx, msg)
}

func (s *Service) deliver(topic string, payload []byte) {
	if err := s.Submit(topic, payload); err != nil {
		s.logger.Warn("message rejected",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}
