package domain

import (
	"time"

	"github.com/google/uuid"
)

type AlertCategory string

const (
	CategoryHealth            AlertCategory = "health"
	CategorySafety            AlertCategory = "safety"
	CategoryBehavior          AlertCategory = "behavior"
	CategoryEnvironment       AlertCategory = "environment"
	CategoryGeofenceViolation AlertCategory = "geofence_violation"
	CategoryBehaviorConcern   AlertCategory = "behavior_concern"
)

var alertCategories = []AlertCategory{
	CategoryHealth,
	CategorySafety,
	CategoryBehavior,
	CategoryEnvironment,
	CategoryGeofenceViolation,
	CategoryBehaviorConcern,
}

// ParseCategory reports whether s names one of the alert categories.
func ParseCategory(s string) (AlertCategory, bool) {
	for _, c := range alertCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Alert is append-only. Severity is fixed at creation; only the resolution
// fields change afterwards, and not by this service.
type Alert struct {
	ID          string
	PetID       *int64
	DeviceID    string
	Category    AlertCategory
	Type        string
	Severity    Severity
	Title       string
	Description string
	Detail      map[string]any
	Resolved    bool
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}

// NewAlert returns an unresolved alert stamped with a fresh id and the current time.
func NewAlert(petID *int64, deviceID string, category AlertCategory, severity Severity) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		PetID:     petID,
		DeviceID:  deviceID,
		Category:  category,
		Type:      string(category),
		Severity:  severity,
		Detail:    map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
}
