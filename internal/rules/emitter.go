// Package rules turns persisted readings and behavior scores into alerts.
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/metrics"
)

type AlertSink interface {
	SaveAlert(ctx context.Context, alert *domain.Alert) error
}

// Notifier delivers an alert to the pet's owners. Best effort: failures are
// logged by the caller and never undo the stored alert.
type Notifier interface {
	Notify(ctx context.Context, alert *domain.Alert) error
}

// Emitter persists an alert and, only once it is stored, notifies about it.
type Emitter struct {
	sink     AlertSink
	notifier Notifier
	logger   *slog.Logger
}

func NewEmitter(sink AlertSink, notifier Notifier, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, notifier: notifier, logger: logger}
}

// Emit returns an error only when the alert could not be stored. Notification
// failures are logged and counted here and never reach the caller.
func (e *Emitter) Emit(ctx context.Context, alert *domain.Alert) error {
	if err := e.sink.SaveAlert(ctx, alert); err != nil {
		metrics.AlertPersistFailures.Add(1)
		return fmt.Errorf("save %s alert for device %s: %w", alert.Category, alert.DeviceID, err)
	}
	metrics.AlertsEmitted.Add(1)

	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.Notify(ctx, alert); err != nil {
		metrics.NotifyFailures.Add(1)
		e.logger.Warn("alert notification failed",
			slog.String("stage", "notify"),
			slog.String("alert_id", alert.ID),
			slog.String("device_id", alert.DeviceID),
			slog.String("category", string(alert.Category)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
