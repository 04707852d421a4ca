package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"dogsense/ingestion/internal/db/migrate"
	"dogsense/ingestion/internal/domain"
)

func setupTestStore(t *testing.T) *TimescaleStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewTimescaleStore(context.Background(), dsn, 4)
	if err != nil {
		t.Fatalf("failed to connect to db: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// seedPet creates a pet with one collar and returns both ids.
func seedPet(t *testing.T, s *TimescaleStore) (int64, string) {
	t.Helper()
	ctx := context.Background()
	var petID int64
	if err := s.pool.QueryRow(ctx, `INSERT INTO pets (name) VALUES ('Rex') RETURNING id`).Scan(&petID); err != nil {
		t.Fatalf("insert pet: %v", err)
	}
	deviceID := fmt.Sprintf("collar-test-%d", petID)
	if _, err := s.pool.Exec(ctx, `INSERT INTO devices (device_id, device_type, pet_id) VALUES ($1, 'collar', $2)`, deviceID, petID); err != nil {
		t.Fatalf("insert device: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = s.pool.Exec(ctx, `DELETE FROM behavior_analysis WHERE pet_id = $1`, petID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM alerts WHERE pet_id = $1`, petID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM sensor_data WHERE device_id = $1`, deviceID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM pets WHERE id = $1`, petID)
	})
	return petID, deviceID
}

func TestFindDevice(t *testing.T) {
	s := setupTestStore(t)
	petID, deviceID := seedPet(t, s)
	ctx := context.Background()

	d, err := s.FindDevice(ctx, deviceID)
	if err != nil {
		t.Fatalf("FindDevice: %v", err)
	}
	if d == nil || d.PetID == nil || *d.PetID != petID || !d.Active || d.Type != domain.DeviceCollar {
		t.Fatalf("unexpected device %+v", d)
	}

	missing, err := s.FindDevice(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("got %v, %v for unknown device, want nil, nil", missing, err)
	}

	seen := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.TouchDevice(ctx, deviceID, seen); err != nil {
		t.Fatalf("TouchDevice: %v", err)
	}
	if err := s.TouchDevice(ctx, deviceID, seen.Add(-time.Hour)); err != nil {
		t.Fatalf("TouchDevice: %v", err)
	}
	d, _ = s.FindDevice(ctx, deviceID)
	if d.LastSeen == nil || !d.LastSeen.Equal(seen) {
		t.Fatalf("last_seen should not move back, got %v want %v", d.LastSeen, seen)
	}
}

func TestActiveGeofences(t *testing.T) {
	s := setupTestStore(t)
	petID, _ := seedPet(t, s)
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geofences (pet_id, name, latitude, longitude, radius, is_active)
		VALUES ($1, 'yard', 52.52, 13.405, 100, TRUE), ($1, 'old', 52.0, 13.0, 50, FALSE)
	`, petID)
	if err != nil {
		t.Fatalf("insert geofences: %v", err)
	}
	t.Cleanup(func() { _, _ = s.pool.Exec(context.Background(), `DELETE FROM geofences WHERE pet_id = $1`, petID) })

	fences, err := s.ActiveGeofences(ctx, petID)
	if err != nil {
		t.Fatalf("ActiveGeofences: %v", err)
	}
	if len(fences) != 1 || fences[0].Name != "yard" || fences[0].RadiusMeters != 100 {
		t.Fatalf("unexpected fences %+v", fences)
	}
}

func TestSaveTelemetryKeepsNulls(t *testing.T) {
	s := setupTestStore(t)
	petID, deviceID := seedPet(t, s)
	ctx := context.Background()

	zero := 0.0
	r := &domain.TelemetryReading{
		Timestamp:     time.Now().UTC(),
		ReceivedAt:    time.Now().UTC(),
		DeviceID:      deviceID,
		PetID:         &petID,
		ActivityLevel: &zero,
		RawPayload:    []byte(`{"device_id":"x","activity_level":0}`),
	}
	for i := 0; i < 2; i++ {
		if err := s.SaveTelemetry(ctx, r); err != nil {
			t.Fatalf("SaveTelemetry: %v", err)
		}
	}
	if r.ID == 0 {
		t.Fatalf("expected ID to be set")
	}

	var (
		count     int
		heartRate *float64
		activity  *float64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) OVER (), heart_rate, activity_level FROM sensor_data WHERE device_id = $1 LIMIT 1
	`, deviceID).Scan(&count, &heartRate, &activity)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d rows, want 2", count)
	}
	if heartRate != nil || activity == nil || *activity != 0 {
		t.Fatalf("got heart_rate=%v activity=%v, want NULL and 0", heartRate, activity)
	}
}

func TestSaveAlert(t *testing.T) {
	s := setupTestStore(t)
	petID, deviceID := seedPet(t, s)
	ctx := context.Background()

	a := domain.NewAlert(&petID, deviceID, domain.CategoryGeofenceViolation, domain.SeverityHigh)
	a.Title = "Geofence Violation"
	a.Detail = map[string]any{"distance": 150.0}
	if err := s.SaveAlert(ctx, a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}
	var (
		severity string
		resolved bool
		data     string
	)
	if err := s.pool.QueryRow(ctx, `SELECT severity, is_resolved, data::text FROM alerts WHERE id = $1`, a.ID).Scan(&severity, &resolved, &data); err != nil {
		t.Fatalf("query alert: %v", err)
	}
	if severity != "high" || resolved || !strings.Contains(data, "150") {
		t.Fatalf("got severity=%s resolved=%v data=%s", severity, resolved, data)
	}
}

func TestBehaviorHistory(t *testing.T) {
	s := setupTestStore(t)
	petID, deviceID := seedPet(t, s)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var last *domain.BehaviorScoreSet
	for i := 0; i < 4; i++ {
		set := &domain.BehaviorScoreSet{
			PetID:     petID,
			DeviceID:  deviceID,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Scores:    map[domain.Behavior]float64{domain.BehaviorWalking: float64(i) / 10},
		}
		if err := s.SaveBehavior(ctx, set); err != nil {
			t.Fatalf("SaveBehavior: %v", err)
		}
		last = set
	}

	history, err := s.RecentBehavior(ctx, petID, last.ID, 2)
	if err != nil {
		t.Fatalf("RecentBehavior: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d sets, want 2", len(history))
	}
	for _, h := range history {
		if h.ID == last.ID {
			t.Fatalf("excluded set returned")
		}
		if _, ok := h.Score(domain.BehaviorDistressed); ok {
			t.Fatalf("unreported score should be absent")
		}
	}
	if v, _ := history[0].Score(domain.BehaviorWalking); v != 0.2 {
		t.Fatalf("expected newest remaining set first, got walking=%v", v)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(1, 3); got != "$1, $2, $3" {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(insertBehaviorSQL, "$18") || strings.Contains(insertBehaviorSQL, "$19") {
		t.Fatalf("behavior insert should bind 18 values: %s", insertBehaviorSQL)
	}
}
