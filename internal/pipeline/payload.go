package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"dogsense/ingestion/internal/domain"
)

// Message is one delivery from the transport.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// TopicDevice returns the last topic segment, which publishers set to the
// device id.
func TopicDevice(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

type sensorPayload struct {
	DeviceID           string          `json:"device_id"`
	Timestamp          json.RawMessage `json:"timestamp"`
	HeartRate          *float64        `json:"heart_rate"`
	Temperature        *float64        `json:"temperature"`
	RespiratoryRate    *float64        `json:"respiratory_rate"`
	ActivityLevel      *float64        `json:"activity_level"`
	Steps              *int            `json:"steps"`
	Calories           *float64        `json:"calories"`
	Latitude           *float64        `json:"latitude"`
	Longitude          *float64        `json:"longitude"`
	Altitude           *float64        `json:"altitude"`
	Speed              *float64        `json:"speed"`
	Satellites         *int            `json:"satellites"`
	AmbientTemperature *float64        `json:"ambient_temperature"`
	Humidity           *float64        `json:"humidity"`
	WaterLevel         *float64        `json:"water_level"`
}

type alertPayload struct {
	DeviceID  string          `json:"device_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	AlertType string          `json:"alert_type"`
	Value     *float64        `json:"value"`
}

type behaviorPayload struct {
	DeviceID  string              `json:"device_id"`
	Timestamp json.RawMessage     `json:"timestamp"`
	Behavior  map[string]*float64 `json:"behavior"`
}

type homePayload struct {
	DeviceID    string          `json:"device_id"`
	Timestamp   json.RawMessage `json:"timestamp"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	WaterLevel  *float64        `json:"water_level"`
}

// decode unmarshals a JSON object payload into v.
func decode(payload []byte, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Device timestamps must fall between minTimestamp and maxClockSkew past the
// receive time. Millisecond epochs land far outside this window.
var minTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const maxClockSkew = 24 * time.Hour

// parseTimestamp accepts an RFC3339 string or unix seconds, relative to the
// receive time. Absent or null yields receivedAt.
func parseTimestamp(raw json.RawMessage, receivedAt time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return receivedAt, nil
	}
	latest := receivedAt.Add(maxClockSkew)

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
		}
		if t.Before(minTimestamp) || t.After(latest) {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", s, ErrTimestampRange)
		}
		return t.UTC(), nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s: not a string or number", raw)
	}
	if secs < float64(minTimestamp.Unix()) || secs > float64(latest.Unix()) {
		return time.Time{}, fmt.Errorf("timestamp %s: %w (want unix seconds)", raw, ErrTimestampRange)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

// behaviorScores keeps the reported scores of known behaviors. Unknown keys
// and null values are skipped.
func behaviorScores(raw map[string]*float64) (map[domain.Behavior]float64, error) {
	scores := make(map[domain.Behavior]float64, len(raw))
	for name, v := range raw {
		if v == nil || !domain.IsBehavior(name) {
			continue
		}
		b := domain.Behavior(name)
		if err := domain.ValidateScore(b, *v); err != nil {
			return nil, err
		}
		scores[b] = *v
	}
	return scores, nil
}
