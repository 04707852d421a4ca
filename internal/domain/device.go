package domain

import "time"

type DeviceType string

const (
	DeviceCollar      DeviceType = "collar"
	DeviceHomeStation DeviceType = "home_station"
	DeviceCamera      DeviceType = "camera"
)

// Device maps a hardware identifier to its pet. Home stations have no pet.
type Device struct {
	ID       string
	Type     DeviceType
	PetID    *int64
	Active   bool
	LastSeen *time.Time
}

// Geofence is a circular safe zone around a center point.
type Geofence struct {
	ID           int64
	PetID        int64
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Active       bool
}
