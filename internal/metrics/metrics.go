package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	MessagesReceived atomic.Int64
	MessagesIgnored  atomic.Int64
	MessagesHandled  atomic.Int64
	QueueRejects     atomic.Int64

	ParseFailures    atomic.Int64
	ValidateFailures atomic.Int64
	UnknownDevices   atomic.Int64
	PersistFailures  atomic.Int64
	EvaluateFailures atomic.Int64
	HandlerPanics    atomic.Int64

	ReadingsPersisted  atomic.Int64
	BehaviorsPersisted atomic.Int64
	StateWriteFailures atomic.Int64

	AlertsEmitted        atomic.Int64
	AlertPersistFailures atomic.Int64
	NotifyFailures       atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ingestion_messages_received_total %d\n", MessagesReceived.Load())
	fmt.Fprintf(w, "ingestion_messages_ignored_total %d\n", MessagesIgnored.Load())
	fmt.Fprintf(w, "ingestion_messages_handled_total %d\n", MessagesHandled.Load())
	fmt.Fprintf(w, "ingestion_queue_rejects_total %d\n", QueueRejects.Load())
	fmt.Fprintf(w, "ingestion_dropped_total{stage=\"parse\"} %d\n", ParseFailures.Load())
	fmt.Fprintf(w, "ingestion_dropped_total{stage=\"validate\"} %d\n", ValidateFailures.Load())
	fmt.Fprintf(w, "ingestion_dropped_total{stage=\"resolve\"} %d\n", UnknownDevices.Load())
	fmt.Fprintf(w, "ingestion_dropped_total{stage=\"persist\"} %d\n", PersistFailures.Load())
	fmt.Fprintf(w, "ingestion_dropped_total{stage=\"evaluate\"} %d\n", EvaluateFailures.Load())
	fmt.Fprintf(w, "ingestion_dropped_total{stage=\"handle\"} %d\n", HandlerPanics.Load())
	fmt.Fprintf(w, "ingestion_readings_persisted_total %d\n", ReadingsPersisted.Load())
	fmt.Fprintf(w, "ingestion_behaviors_persisted_total %d\n", BehaviorsPersisted.Load())
	fmt.Fprintf(w, "ingestion_state_write_failures_total %d\n", StateWriteFailures.Load())
	fmt.Fprintf(w, "ingestion_alerts_emitted_total %d\n", AlertsEmitted.Load())
	fmt.Fprintf(w, "ingestion_alert_persist_failures_total %d\n", AlertPersistFailures.Load())
	fmt.Fprintf(w, "ingestion_notify_failures_total %d\n", NotifyFailures.Load())
}
