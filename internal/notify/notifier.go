package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/rules"
)

// LogNotifier records each alert in the service log. It stands in for a push
// gateway.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a *domain.Alert) error {
	attrs := []any{
		slog.String("alert_id", a.ID),
		slog.String("device_id", a.DeviceID),
		slog.String("category", string(a.Category)),
		slog.String("severity", string(a.Severity)),
		slog.String("title", a.Title),
	}
	if a.PetID != nil {
		attrs = append(attrs, slog.Int64("pet_id", *a.PetID))
	}
	n.logger.InfoContext(ctx, "sending notification", attrs...)
	return nil
}

// AlertPublisher is satisfied by store.RedisStore.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, petID *int64, payload []byte) error
}

// RedisNotifier publishes alerts on the pet's Redis channel for live clients.
type RedisNotifier struct {
	pub AlertPublisher
}

func NewRedisNotifier(pub AlertPublisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (n *RedisNotifier) Notify(ctx context.Context, a *domain.Alert) error {
	payload, err := encode(a)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	if err := n.pub.PublishAlert(ctx, a.PetID, payload); err != nil {
		return fmt.Errorf("publish alert %s: %w", a.ID, err)
	}
	return nil
}

// Multi calls every notifier and joins their errors.
type Multi []rules.Notifier

func (m Multi) Notify(ctx context.Context, a *domain.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
