package domain

import (
	"errors"
	"time"
)

var (
	ErrPartialLocation = errors.New("latitude and longitude must be reported together")
	ErrLocationRange   = errors.New("coordinates out of range")
)

// TelemetryReading is one ingested measurement from a collar or a home station.
// Optional values are nil when the device did not report them; zero is a real reading.
type TelemetryReading struct {
	ID         int64
	ReceivedAt time.Time

	Timestamp time.Time
	DeviceID  string
	PetID     *int64

	HeartRate       *float64
	Temperature     *float64
	RespiratoryRate *float64

	ActivityLevel *float64
	Steps         *int
	Calories      *float64

	Location *Location

	AmbientTemperature *float64
	Humidity           *float64
	WaterLevel         *float64

	RawPayload []byte
}

// Location is present as a whole or not at all.
type Location struct {
	Latitude   float64
	Longitude  float64
	Altitude   *float64
	Speed      *float64
	Satellites *int
}

// NewLocation builds a Location from optional coordinates. It returns nil when
// neither coordinate is present.
func NewLocation(lat, lon *float64) (*Location, error) {
	if lat == nil && lon == nil {
		return nil, nil
	}
	if lat == nil || lon == nil {
		return nil, ErrPartialLocation
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return nil, ErrLocationRange
	}
	return &Location{Latitude: *lat, Longitude: *lon}, nil
}

// Vital names a vital-sign metric carried by a reading.
type Vital string

const (
	VitalHeartRate       Vital = "heart_rate"
	VitalTemperature     Vital = "temperature"
	VitalRespiratoryRate Vital = "respiratory_rate"
)

// Vital returns the reported value for v, if any.
func (r *TelemetryReading) Vital(v Vital) (float64, bool) {
	var p *float64
	switch v {
	case VitalHeartRate:
		p = r.HeartRate
	case VitalTemperature:
		p = r.Temperature
	case VitalRespiratoryRate:
		p = r.RespiratoryRate
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
