// Package notify delivers stored alerts to their audiences.
package notify

import (
	"encoding/json"
	"time"

	"dogsense/ingestion/internal/domain"
)

// Event is the wire form of an alert published to Redis and Kafka.
type Event struct {
	ID          string         `json:"id"`
	PetID       *int64         `json:"pet_id,omitempty"`
	DeviceID    string         `json:"device_id"`
	Category    string         `json:"category"`
	AlertType   string         `json:"alert_type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewEvent(a *domain.Alert) Event {
	return Event{
		ID:          a.ID,
		PetID:       a.PetID,
		DeviceID:    a.DeviceID,
		Category:    string(a.Category),
		AlertType:   a.Type,
		Severity:    string(a.Severity),
		Title:       a.Title,
		Description: a.Description,
		Data:        a.Detail,
		CreatedAt:   a.CreatedAt,
	}
}

func encode(a *domain.Alert) ([]byte, error) {
	return json.Marshal(NewEvent(a))
}
