package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dogsense/ingestion/internal/domain"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, dsn string, maxConns int32) (*TimescaleStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FindDevice returns nil, nil for an unregistered device.
func (s *TimescaleStore) FindDevice(ctx context.Context, id string) (*domain.Device, error) {
	var (
		d          domain.Device
		deviceType string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT device_id, device_type, pet_id, is_active, last_seen
		FROM devices
		WHERE device_id = $1
	`, id).Scan(&d.ID, &deviceType, &d.PetID, &d.Active, &d.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", id, err)
	}
	d.Type = domain.DeviceType(deviceType)
	return &d, nil
}

// TouchDevice moves last_seen forward, never back.
func (s *TimescaleStore) TouchDevice(ctx context.Context, deviceID string, seen time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE devices
		SET last_seen = GREATEST(COALESCE(last_seen, $2), $2)
		WHERE device_id = $1
	`, deviceID, seen)
	return err
}

func (s *TimescaleStore) ActiveGeofences(ctx context.Context, petID int64) ([]domain.Geofence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pet_id, name, latitude, longitude, radius, is_active
		FROM geofences
		WHERE pet_id = $1 AND is_active
		ORDER BY id
	`, petID)
	if err != nil {
		return nil, fmt.Errorf("query geofences for pet %d: %w", petID, err)
	}
	defer rows.Close()

	var fences []domain.Geofence
	for rows.Next() {
		var g domain.Geofence
		if err := rows.Scan(&g.ID, &g.PetID, &g.Name, &g.Latitude, &g.Longitude, &g.RadiusMeters, &g.Active); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		fences = append(fences, g)
	}
	return fences, rows.Err()
}

var telemetryColumns = []string{
	"timestamp",
	"received_at",
	"device_id",
	"pet_id",
	"heart_rate",
	"temperature",
	"respiratory_rate",
	"activity_level",
	"steps",
	"calories",
	"latitude",
	"longitude",
	"altitude",
	"speed",
	"satellites",
	"ambient_temperature",
	"humidity",
	"water_level",
	"raw_data",
}

func telemetryRow(r *domain.TelemetryReading) []any {
	var (
		lat, lon, alt, speed *float64
		sats                 *int
	)
	if r.Location != nil {
		lat, lon = &r.Location.Latitude, &r.Location.Longitude
		alt, speed, sats = r.Location.Altitude, r.Location.Speed, r.Location.Satellites
	}
	var raw *string
	if len(r.RawPayload) > 0 {
		s := string(r.RawPayload)
		raw = &s
	}
	return []any{
		r.Timestamp,
		r.ReceivedAt,
		r.DeviceID,
		r.PetID,
		r.HeartRate,
		r.Temperature,
		r.RespiratoryRate,
		r.ActivityLevel,
		r.Steps,
		r.Calories,
		lat,
		lon,
		alt,
		speed,
		sats,
		r.AmbientTemperature,
		r.Humidity,
		r.WaterLevel,
		raw,
	}
}

var insertTelemetrySQL = fmt.Sprintf(
	"INSERT INTO sensor_data (%s) VALUES (%s) RETURNING id",
	strings.Join(telemetryColumns, ", "),
	placeholders(1, len(telemetryColumns)),
)

// SaveTelemetry inserts one reading and sets its ID.
func (s *TimescaleStore) SaveTelemetry(ctx context.Context, r *domain.TelemetryReading) error {
	if err := s.pool.QueryRow(ctx, insertTelemetrySQL, telemetryRow(r)...).Scan(&r.ID); err != nil {
		return fmt.Errorf("insert reading for device %s: %w", r.DeviceID, err)
	}
	return nil
}

// CopyTelemetry bulk loads readings with COPY. Used for backfills and seeding;
// IDs are not populated.
func (s *TimescaleStore) CopyTelemetry(ctx context.Context, readings []*domain.TelemetryReading) error {
	if len(readings) == 0 {
		return nil
	}

	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = telemetryRow(r)
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"sensor_data"},
		telemetryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(readings), err)
	}
	return nil
}

func (s *TimescaleStore) SaveAlert(ctx context.Context, a *domain.Alert) error {
	var data []byte
	if len(a.Detail) > 0 {
		var err error
		if data, err = json.Marshal(a.Detail); err != nil {
			return fmt.Errorf("encode alert detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts
			(id, pet_id, device_id, category, alert_type, severity, title, description, data, is_resolved, resolved_at, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID,
		a.PetID,
		a.DeviceID,
		string(a.Category),
		a.Type,
		string(a.Severity),
		a.Title,
		a.Description,
		data,
		a.Resolved,
		a.ResolvedAt,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

func behaviorColumns() []string {
	cols := make([]string, len(domain.Behaviors))
	for i, b := range domain.Behaviors {
		cols[i] = string(b)
	}
	return cols
}

var (
	insertBehaviorSQL = fmt.Sprintf(
		"INSERT INTO behavior_analysis (pet_id, device_id, timestamp, %s) VALUES (%s) RETURNING id",
		strings.Join(behaviorColumns(), ", "),
		placeholders(1, 3+len(domain.Behaviors)),
	)
	recentBehaviorSQL = fmt.Sprintf(`
		SELECT id, pet_id, device_id, timestamp, %s
		FROM behavior_analysis
		WHERE pet_id = $1 AND id <> $2
		ORDER BY timestamp DESC, id DESC
		LIMIT $3`,
		strings.Join(behaviorColumns(), ", "),
	)
)

// SaveBehavior inserts one score set and sets its ID. Unreported categories
// are stored as NULL.
func (s *TimescaleStore) SaveBehavior(ctx context.Context, set *domain.BehaviorScoreSet) error {
	args := make([]any, 0, 3+len(domain.Behaviors))
	args = append(args, set.PetID, set.DeviceID, set.Timestamp)
	for _, b := range domain.Behaviors {
		if v, ok := set.Score(b); ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	if err := s.pool.QueryRow(ctx, insertBehaviorSQL, args...).Scan(&set.ID); err != nil {
		return fmt.Errorf("insert behavior for device %s: %w", set.DeviceID, err)
	}
	return nil
}

// RecentBehavior returns up to limit score sets of the pet, newest first,
// skipping excludeID.
func (s *TimescaleStore) RecentBehavior(ctx context.Context, petID int64, excludeID int64, limit int) ([]domain.BehaviorScoreSet, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, recentBehaviorSQL, petID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query behavior history for pet %d: %w", petID, err)
	}
	defer rows.Close()

	var sets []domain.BehaviorScoreSet
	for rows.Next() {
		var set domain.BehaviorScoreSet
		scores := make([]*float64, len(domain.Behaviors))
		dest := []any{&set.ID, &set.PetID, &set.DeviceID, &set.Timestamp}
		for i := range scores {
			dest = append(dest, &scores[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan behavior: %w", err)
		}
		set.Scores = make(map[domain.Behavior]float64, len(domain.Behaviors))
		for i, b := range domain.Behaviors {
			if scores[i] != nil {
				set.Scores[b] = *scores[i]
			}
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// placeholders returns "$from, ..., $(from+n-1)".
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}
