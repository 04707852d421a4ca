package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/severity"
)

// VitalRange is the normal band for one vital sign, bounds inclusive.
type VitalRange struct {
	Metric domain.Vital `yaml:"metric"`
	Min    float64      `yaml:"min"`
	Max    float64      `yaml:"max"`
}

func DefaultVitalRanges() []VitalRange {
	return []VitalRange{
		{Metric: domain.VitalHeartRate, Min: 60, Max: 120},
		{Metric: domain.VitalTemperature, Min: 37.5, Max: 39.5},
		{Metric: domain.VitalRespiratoryRate, Min: 10, Max: 30},
	}
}

var recommendations = map[string]string{
	"high_temperature": "Check for overheating - ensure pet has access to water and shade",
	"low_heart_rate":   "Monitor closely - low heart rate may indicate distress",
}

// VitalsEvaluator raises health alerts for vital signs outside their normal range.
type VitalsEvaluator struct {
	ranges  []VitalRange
	table   *severity.Table
	emitter *Emitter
}

func NewVitalsEvaluator(ranges []VitalRange, table *severity.Table, emitter *Emitter) (*VitalsEvaluator, error) {
	for _, r := range ranges {
		switch r.Metric {
		case domain.VitalHeartRate, domain.VitalTemperature, domain.VitalRespiratoryRate:
		default:
			return nil, fmt.Errorf("rules: unknown vital %q", r.Metric)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("rules: vital %q: min %v above max %v", r.Metric, r.Min, r.Max)
		}
	}
	return &VitalsEvaluator{ranges: ranges, table: table, emitter: emitter}, nil
}

func (e *VitalsEvaluator) Evaluate(ctx context.Context, petID int64, reading *domain.TelemetryReading) ([]*domain.Alert, error) {
	var (
		emitted []*domain.Alert
		errs    []error
	)
	for _, r := range e.ranges {
		value, ok := reading.Vital(r.Metric)
		if !ok {
			continue
		}

		var direction string
		switch {
		case value < r.Min:
			direction = "low"
		case value > r.Max:
			direction = "high"
		default:
			continue
		}
		alertType := direction + "_" + string(r.Metric)

		pid := petID
		alert := domain.NewAlert(&pid, reading.DeviceID, domain.CategoryHealth, e.table.Classify(string(r.Metric), value))
		alert.Type = alertType
		alert.Title = fmt.Sprintf("%s %s", strings.ToUpper(direction[:1])+direction[1:], strings.ReplaceAll(string(r.Metric), "_", " "))
		alert.Description = fmt.Sprintf("%s reading %.1f outside normal range [%.1f, %.1f]", r.Metric, value, r.Min, r.Max)
		alert.Detail = map[string]any{
			"metric": string(r.Metric),
			"value":  value,
			"min":    r.Min,
			"max":    r.Max,
		}
		if rec, ok := recommendations[alertType]; ok {
			alert.Detail["recommendation"] = rec
		}
		if err := e.emitter.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
			continue
		}
		emitted = append(emitted, alert)
	}
	return emitted, errors.Join(errs...)
}
