package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"dogsense/ingestion/internal/metrics"
)

const (
	TopicData     = "dogsense/data/"
	TopicAlerts   = "dogsense/alerts/"
	TopicBehavior = "dogsense/behavior/"
	TopicHome     = "dogsense/home/"
)

// Subscriptions are the topic filters a transport must subscribe to.
var Subscriptions = []string{
	TopicData + "+",
	TopicAlerts + "+",
	TopicBehavior + "+",
	TopicHome + "+",
}

type HandlerFunc func(ctx context.Context, msg Message) error

type route struct {
	prefix  string
	handler HandlerFunc
}

// Router sends each message to the one handler owning its topic prefix.
type Router struct {
	routes []route
	logger *slog.Logger
}

func NewRouter(h *Handlers, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		routes: []route{
			{prefix: TopicData, handler: h.HandleSensor},
			{prefix: TopicAlerts, handler: h.HandleAlert},
			{prefix: TopicBehavior, handler: h.HandleBehavior},
			{prefix: TopicHome, handler: h.HandleHome},
		},
		logger: logger,
	}
}

// Route handles one message. Topics outside the known prefixes are ignored
// and return nil. A panicking handler is reported as a StageHandle error.
func (r *Router) Route(ctx context.Context, topic string, payload []byte) error {
	return r.Dispatch(ctx, Message{Topic: topic, Payload: payload, ReceivedAt: time.Now().UTC()})
}

func (r *Router) Dispatch(ctx context.Context, msg Message) (err error) {
	handler := r.match(msg.Topic)
	if handler == nil {
		metrics.MessagesIgnored.Add(1)
		r.logger.Debug("ignoring message on unrouted topic", slog.String("topic", msg.Topic))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.Add(1)
			r.logger.Error("handler panic",
				slog.String("topic", msg.Topic),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = &StageError{Stage: StageHandle, Topic: msg.Topic, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	err = handler(ctx, msg)
	r.record(msg, err)
	return err
}

func (r *Router) match(topic string) HandlerFunc {
	for _, rt := range r.routes {
		if strings.HasPrefix(topic, rt.prefix) {
			return rt.handler
		}
	}
	return nil
}

func (r *Router) record(msg Message, err error) {
	if err == nil {
		metrics.MessagesHandled.Add(1)
		return
	}
	stage, _ := StageOf(err)
	switch stage {
	case StageParse:
		metrics.ParseFailures.Add(1)
	case StageValidate:
		metrics.ValidateFailures.Add(1)
	case StageResolve:
		// counted where the device was rejected
		return
	}
	attrs := []any{
		slog.String("topic", msg.Topic),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	}
	if Dropped(err) {
		r.logger.Warn("message dropped", attrs...)
		return
	}
	r.logger.Error("message failed", attrs...)
}
