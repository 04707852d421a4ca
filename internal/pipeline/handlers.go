package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/metrics"
	"dogsense/ingestion/internal/rules"
	"dogsense/ingestion/internal/severity"
)

// ErrNoPet is returned for behavior data from a device not assigned to a pet.
var ErrNoPet = errors.New("device has no pet")

type DeviceRegistry interface {
	// FindDevice returns nil, nil when id is not registered.
	FindDevice(ctx context.Context, id string) (*domain.Device, error)
}

type TelemetrySink interface {
	SaveTelemetry(ctx context.Context, reading *domain.TelemetryReading) error
	// SaveBehavior stores the set and assigns its ID.
	SaveBehavior(ctx context.Context, set *domain.BehaviorScoreSet) error
}

// LiveState keeps the latest known reading of each pet for dashboards.
type LiveState interface {
	UpdatePetState(ctx context.Context, petID int64, reading *domain.TelemetryReading) error
}

// DeviceTracker records when a device last delivered a persisted message.
type DeviceTracker interface {
	TouchDevice(ctx context.Context, deviceID string, seen time.Time) error
}

// Deps are the collaborators of Handlers. Vitals, Anomaly, State and Tracker
// are optional.
type Deps struct {
	Registry DeviceRegistry
	Sink     TelemetrySink
	Emitter  *rules.Emitter
	Severity *severity.Table

	Geofences *rules.GeofenceEvaluator
	Vitals    *rules.VitalsEvaluator
	Behavior  *rules.BehaviorEvaluator
	Anomaly   *rules.AnomalyEvaluator

	State   LiveState
	Tracker DeviceTracker
	Logger  *slog.Logger
}

// Handlers turn decoded messages into persisted entities and run the rules
// that apply to them.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Severity == nil {
		deps.Severity = severity.DefaultTable()
	}
	return &Handlers{deps: deps, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handlers) HandleSensor(ctx context.Context, msg Message) error {
	var p sensorPayload
	if err := decode(msg.Payload, &p); err != nil {
		return stageErr(StageParse, msg, "", err)
	}
	if err := checkDevice(msg, p.DeviceID); err != nil {
		return err
	}
	loc, err := domain.NewLocation(p.Latitude, p.Longitude)
	if err != nil {
		return stageErr(StageValidate, msg, p.DeviceID, err)
	}
	if loc == nil && (p.Altitude != nil || p.Speed != nil || p.Satellites != nil) {
		return stageErr(StageValidate, msg, p.DeviceID, fmt.Errorf("%w: altitude, speed or satellites without coordinates", domain.ErrPartialLocation))
	}
	if loc != nil {
		loc.Altitude = p.Altitude
		loc.Speed = p.Speed
		loc.Satellites = p.Satellites
	}
	ts, err := parseTimestamp(p.Timestamp, h.receivedAt(msg))
	if err != nil {
		return stageErr(StageValidate, msg, p.DeviceID, err)
	}

	device, err := h.resolve(ctx, msg, p.DeviceID)
	if err != nil {
		return err
	}

	reading := &domain.TelemetryReading{
		ReceivedAt:         h.receivedAt(msg),
		Timestamp:          ts,
		DeviceID:           device.ID,
		PetID:              device.PetID,
		HeartRate:          p.HeartRate,
		Temperature:        p.Temperature,
		RespiratoryRate:    p.RespiratoryRate,
		ActivityLevel:      p.ActivityLevel,
		Steps:              p.Steps,
		Calories:           p.Calories,
		Location:           loc,
		AmbientTemperature: p.AmbientTemperature,
		Humidity:           p.Humidity,
		WaterLevel:         p.WaterLevel,
		RawPayload:         msg.Payload,
	}
	if err := h.deps.Sink.SaveTelemetry(ctx, reading); err != nil {
		metrics.PersistFailures.Add(1)
		return stageErr(StagePersist, msg, device.ID, err)
	}
	metrics.ReadingsPersisted.Add(1)
	h.touch(ctx, device.ID, reading.ReceivedAt)

	if device.PetID == nil {
		return nil
	}
	petID := *device.PetID
	h.updateState(ctx, petID, reading)

	var errs []error
	if h.deps.Geofences != nil {
		if _, err := h.deps.Geofences.Evaluate(ctx, petID, reading); err != nil {
			errs = append(errs, err)
		}
	}
	if h.deps.Vitals != nil {
		if _, err := h.deps.Vitals.Evaluate(ctx, petID, reading); err != nil {
			errs = append(errs, err)
		}
	}
	return h.evaluated(msg, device.ID, errors.Join(errs...))
}

func (h *Handlers) HandleAlert(ctx context.Context, msg Message) error {
	var p alertPayload
	if err := decode(msg.Payload, &p); err != nil {
		return stageErr(StageParse, msg, "", err)
	}
	var detail map[string]any
	if err := json.Unmarshal(msg.Payload, &detail); err != nil {
		return stageErr(StageParse, msg, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if err := checkDevice(msg, p.DeviceID); err != nil {
		return err
	}
	ts, err := parseTimestamp(p.Timestamp, h.receivedAt(msg))
	if err != nil {
		return stageErr(StageValidate, msg, p.DeviceID, err)
	}

	device, err := h.resolve(ctx, msg, p.DeviceID)
	if err != nil {
		return err
	}

	alertType := p.AlertType
	if alertType == "" {
		alertType = "unknown"
	}
	sev := h.deps.Severity.Fallback()
	if p.Value != nil {
		sev = h.deps.Severity.Classify(alertType, *p.Value)
	}

	alert := domain.NewAlert(device.PetID, device.ID, h.categoryOf(alertType), sev)
	alert.Type = alertType
	if p.AlertType == "" {
		alert.Title = "Unknown Alert"
	} else {
		alert.Title = p.AlertType + " Alert"
	}
	alert.Description = string(msg.Payload)
	alert.Detail = detail
	alert.CreatedAt = ts

	if err := h.deps.Emitter.Emit(ctx, alert); err != nil {
		metrics.PersistFailures.Add(1)
		return stageErr(StagePersist, msg, device.ID, err)
	}
	h.touch(ctx, device.ID, h.receivedAt(msg))
	return nil
}

func (h *Handlers) HandleBehavior(ctx context.Context, msg Message) error {
	var p behaviorPayload
	if err := decode(msg.Payload, &p); err != nil {
		return stageErr(StageParse, msg, "", err)
	}
	if err := checkDevice(msg, p.DeviceID); err != nil {
		return err
	}
	scores, err := behaviorScores(p.Behavior)
	if err != nil {
		return stageErr(StageValidate, msg, p.DeviceID, err)
	}
	ts, err := parseTimestamp(p.Timestamp, h.receivedAt(msg))
	if err != nil {
		return stageErr(StageValidate, msg, p.DeviceID, err)
	}

	device, err := h.resolve(ctx, msg, p.DeviceID)
	if err != nil {
		return err
	}
	if device.PetID == nil {
		metrics.UnknownDevices.Add(1)
		h.logger.Warn("behavior data from device without pet",
			slog.String("topic", msg.Topic),
			slog.String("device_id", device.ID),
		)
		return stageErr(StageResolve, msg, device.ID, ErrNoPet)
	}
	petID := *device.PetID

	set := &domain.BehaviorScoreSet{
		PetID:     petID,
		DeviceID:  device.ID,
		Timestamp: ts,
		Scores:    scores,
	}
	if err := h.deps.Sink.SaveBehavior(ctx, set); err != nil {
		metrics.PersistFailures.Add(1)
		return stageErr(StagePersist, msg, device.ID, err)
	}
	metrics.BehaviorsPersisted.Add(1)
	h.touch(ctx, device.ID, h.receivedAt(msg))

	var errs []error
	if h.deps.Behavior != nil {
		if _, err := h.deps.Behavior.Evaluate(ctx, petID, set); err != nil {
			errs = append(errs, err)
		}
	}
	if h.deps.Anomaly != nil {
		if _, err := h.deps.Anomaly.Evaluate(ctx, petID, set); err != nil {
			errs = append(errs, err)
		}
	}
	return h.evaluated(msg, device.ID, errors.Join(errs...))
}

// HandleHome stores environment readings from a home station. Home data never
// belongs to a pet and never triggers rules.
func (h *Handlers) HandleHome(ctx context.Context, msg Message) error {
	var p homePayload
	if err := decode(msg.Payload, &p); err != nil {
		return stageErr(StageParse, msg, "", err)
	}
	if err := checkDevice(msg, p.DeviceID); err != nil {
		return err
	}
	ts, err := parseTimestamp(p.Timestamp, h.receivedAt(msg))
	if err != nil {
		return stageErr(StageValidate, msg, p.DeviceID, err)
	}

	device, err := h.resolve(ctx, msg, p.DeviceID)
	if err != nil {
		return err
	}

	reading := &domain.TelemetryReading{
		ReceivedAt:         h.receivedAt(msg),
		Timestamp:          ts,
		DeviceID:           device.ID,
		AmbientTemperature: p.Temperature,
		Humidity:           p.Humidity,
		WaterLevel:         p.WaterLevel,
		RawPayload:         msg.Payload,
	}
	if err := h.deps.Sink.SaveTelemetry(ctx, reading); err != nil {
		metrics.PersistFailures.Add(1)
		return stageErr(StagePersist, msg, device.ID, err)
	}
	metrics.ReadingsPersisted.Add(1)
	h.touch(ctx, device.ID, reading.ReceivedAt)
	return nil
}

// checkDevice requires a device_id that matches the device named by the topic.
// The dispatcher orders work by the topic device, so the two must agree.
func checkDevice(msg Message, deviceID string) error {
	if deviceID == "" {
		return stageErr(StageValidate, msg, "", ErrMissingDeviceID)
	}
	if topicDevice := TopicDevice(msg.Topic); topicDevice != "" && topicDevice != deviceID {
		return stageErr(StageValidate, msg, deviceID, fmt.Errorf("%w: topic names %q", ErrDeviceMismatch, topicDevice))
	}
	return nil
}

func (h *Handlers) resolve(ctx context.Context, msg Message, deviceID string) (*domain.Device, error) {
	device, err := h.deps.Registry.FindDevice(ctx, deviceID)
	if err != nil {
		h.logger.Error("device lookup failed",
			slog.String("topic", msg.Topic),
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
		return nil, stageErr(StageResolve, msg, deviceID, fmt.Errorf("lookup device: %w", err))
	}
	if device == nil {
		metrics.UnknownDevices.Add(1)
		h.logger.Warn("dropping message from unregistered device",
			slog.String("topic", msg.Topic),
			slog.String("device_id", deviceID),
		)
		return nil, stageErr(StageResolve, msg, deviceID, ErrUnknownDevice)
	}
	if !device.Active {
		metrics.UnknownDevices.Add(1)
		h.logger.Warn("dropping message from inactive device",
			slog.String("topic", msg.Topic),
			slog.String("device_id", deviceID),
		)
		return nil, stageErr(StageResolve, msg, deviceID, ErrDeviceInactive)
	}
	return device, nil
}

// categoryOf picks the category for an inbound alert type: the severity
// table's mapping, then the type itself if it names a category, then health.
func (h *Handlers) categoryOf(alertType string) domain.AlertCategory {
	if c, ok := h.deps.Severity.Category(alertType); ok {
		return c
	}
	if c, ok := domain.ParseCategory(alertType); ok {
		return c
	}
	return domain.CategoryHealth
}

func (h *Handlers) evaluated(msg Message, deviceID string, err error) error {
	if err == nil {
		return nil
	}
	metrics.EvaluateFailures.Add(1)
	return stageErr(StageEvaluate, msg, deviceID, err)
}

func (h *Handlers) updateState(ctx context.Context, petID int64, reading *domain.TelemetryReading) {
	if h.deps.State == nil {
		return
	}
	if err := h.deps.State.UpdatePetState(ctx, petID, reading); err != nil {
		metrics.StateWriteFailures.Add(1)
		h.logger.Warn("live state update failed",
			slog.String("device_id", reading.DeviceID),
			slog.Int64("pet_id", petID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) touch(ctx context.Context, deviceID string, seen time.Time) {
	if h.deps.Tracker == nil {
		return
	}
	if err := h.deps.Tracker.TouchDevice(ctx, deviceID, seen); err != nil {
		h.logger.Debug("device last_seen update failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) receivedAt(msg Message) time.Time {
	if msg.ReceivedAt.IsZero() {
		return h.now()
	}
	return msg.ReceivedAt.UTC()
}
