package rules

import (
	"context"
	"errors"
	"fmt"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/geo"
)

type GeofenceSource interface {
	ActiveGeofences(ctx context.Context, petID int64) ([]domain.Geofence, error)
}

type GeofenceEvaluator struct {
	fences  GeofenceSource
	emitter *Emitter
}

func NewGeofenceEvaluator(fences GeofenceSource, emitter *Emitter) *GeofenceEvaluator {
	return &GeofenceEvaluator{fences: fences, emitter: emitter}
}

// Evaluate emits one geofence_violation alert for every active fence of the pet
// that the reading lies outside of. It returns the alerts that were stored.
func (e *GeofenceEvaluator) Evaluate(ctx context.Context, petID int64, reading *domain.TelemetryReading) ([]*domain.Alert, error) {
	if reading.Location == nil {
		return nil, nil
	}

	fences, err := e.fences.ActiveGeofences(ctx, petID)
	if err != nil {
		return nil, fmt.Errorf("load geofences for pet %d: %w", petID, err)
	}

	lat, lon := reading.Location.Latitude, reading.Location.Longitude
	var (
		emitted []*domain.Alert
		errs    []error
	)
	for _, fence := range fences {
		if !fence.Active {
			continue
		}
		distance := geo.Distance(lat, lon, fence.Latitude, fence.Longitude)
		// NaN distances never count as a violation.
		if !(distance > fence.RadiusMeters) {
			continue
		}

		pid := petID
		alert := domain.NewAlert(&pid, reading.DeviceID, domain.CategoryGeofenceViolation, domain.SeverityHigh)
		alert.Title = "Geofence Violation"
		alert.Description = fmt.Sprintf("Pet left safe zone: %s", fence.Name)
		alert.Detail = map[string]any{
			"geofence_id":   fence.ID,
			"geofence_name": fence.Name,
			"distance":      distance,
			"radius":        fence.RadiusMeters,
			"current_location": map[string]any{
				"lat": lat,
				"lng": lon,
			},
		}
		if err := e.emitter.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
			continue
		}
		emitted = append(emitted, alert)
	}
	return emitted, errors.Join(errs...)
}
