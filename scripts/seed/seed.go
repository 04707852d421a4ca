package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"dogsense/ingestion/internal/config"
	"dogsense/ingestion/internal/domain"
	"dogsense/ingestion/internal/store"
)

type pet struct {
	id    int64
	name  string
	breed string
	home  [2]float64
}

var pets = []pet{
	{1, "Rex", "German Shepherd", [2]float64{52.5200, 13.4050}},
	{2, "Luna", "Border Collie", [2]float64{48.1371, 11.5754}},
}

type device struct {
	id    string
	kind  domain.DeviceType
	petID *int64
}

func petID(id int64) *int64 { return &id }

var devices = []device{
	{"collar-rex", domain.DeviceCollar, petID(1)},
	{"collar-luna", domain.DeviceCollar, petID(2)},
	{"cam-rex", domain.DeviceCamera, petID(1)},
	{"home-1", domain.DeviceHomeStation, nil},
}

// config.Load reads .env itself.
func main() {
	cfg := config.Load()
	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nRun the migrations first:\n  go run ./cmd/migrate", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_pets(ctx, conn)
	step2_devices(ctx, conn)
	step3_geofences(ctx, conn)

	db, err := store.NewTimescaleStore(ctx, cfg.DatabaseURL(), 2)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()
	readings := step4_readings(ctx, db)

	live, err := store.NewRedisStore(ctx, store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("%v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer live.Close()
	step5_live_state(ctx, live, readings)

	fmt.Println("\n✅ Seed data loaded")
	fmt.Println("   Run next: go run ./cmd/ingestion")
}

func step1_pets(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Pets ────────────────────────────────")
	for _, p := range pets {
		execOrFatal(ctx, conn, fmt.Sprintf("%-8s %s", p.name, p.breed), `
			INSERT INTO pets (id, name, breed) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, breed = EXCLUDED.breed
		`, p.id, p.name, p.breed)
	}
	execOrFatal(ctx, conn, "pets id sequence", `SELECT setval('pets_id_seq', (SELECT MAX(id) FROM pets))`)
}

func step2_devices(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: Devices ─────────────────────────────")
	for _, d := range devices {
		label := fmt.Sprintf("%-12s %s", d.id, d.kind)
		if d.petID != nil {
			label += fmt.Sprintf(" → pet %d", *d.petID)
		}
		execOrFatal(ctx, conn, label, `
			INSERT INTO devices (device_id, device_type, pet_id, is_active) VALUES ($1, $2, $3, TRUE)
			ON CONFLICT (device_id) DO UPDATE
			SET device_type = EXCLUDED.device_type, pet_id = EXCLUDED.pet_id, is_active = TRUE
		`, d.id, string(d.kind), d.petID)
	}
}

func step3_geofences(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Geofences ───────────────────────────")
	for _, p := range pets {
		execOrFatal(ctx, conn, fmt.Sprintf("%s: home, 150 m", p.name), `
			INSERT INTO geofences (pet_id, name, latitude, longitude, radius)
			SELECT $1, 'home', $2, $3, 150
			WHERE NOT EXISTS (SELECT 1 FROM geofences WHERE pet_id = $1 AND name = 'home')
		`, p.id, p.home[0], p.home[1])
	}
}

// step4_readings loads an hour of one-minute collar readings per pet, walking
// a small circle around home.
func step4_readings(ctx context.Context, db *store.TimescaleStore) []*domain.TelemetryReading {
	fmt.Println("\n── Step 4: Sample readings ─────────────────────")

	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Minute)
	var all []*domain.TelemetryReading
	for i, p := range pets {
		deviceID := devices[i].id
		for m := 0; m < 60; m++ {
			angle := float64(m) / 60 * 2 * math.Pi
			hr := 85 + 10*math.Sin(angle)
			temp := 38.5 + 0.2*math.Cos(angle)
			steps := m * 40
			r := &domain.TelemetryReading{
				Timestamp:   start.Add(time.Duration(m) * time.Minute),
				ReceivedAt:  start.Add(time.Duration(m)*time.Minute + 300*time.Millisecond),
				DeviceID:    deviceID,
				PetID:       petID(p.id),
				HeartRate:   &hr,
				Temperature: &temp,
				Steps:       &steps,
				Location: &domain.Location{
					Latitude:  p.home[0] + 0.0005*math.Sin(angle),
					Longitude: p.home[1] + 0.0005*math.Cos(angle),
				},
			}
			r.RawPayload, _ = json.Marshal(map[string]any{
				"device_id":   deviceID,
				"heart_rate":  hr,
				"temperature": temp,
				"steps":       steps,
			})
			all = append(all, r)
		}
	}

	if err := db.CopyTelemetry(ctx, all); err != nil {
		log.Fatalf("Loading readings failed: %v", err)
	}
	fmt.Printf("  ✓ %d readings copied into sensor_data\n", len(all))
	return all
}

func step5_live_state(ctx context.Context, live *store.RedisStore, readings []*domain.TelemetryReading) {
	fmt.Println("\n── Step 5: Live pet state ──────────────────────")

	latest := map[int64]*domain.TelemetryReading{}
	for _, r := range readings {
		if prev, ok := latest[*r.PetID]; !ok || r.Timestamp.After(prev.Timestamp) {
			latest[*r.PetID] = r
		}
	}
	for id, r := range latest {
		if err := live.UpdatePetState(ctx, id, r); err != nil {
			log.Fatalf("Writing state for pet %d failed: %v", id, err)
		}
		fmt.Printf("  ✓ %-20s ← %s\n", store.PetStateKey(id), r.DeviceID)
	}
}

// execOrFatal runs a statement and prints label, or exits on error.
func execOrFatal(ctx context.Context, conn *pgx.Conn, label, sql string, args ...any) {
	if _, err := conn.Exec(ctx, sql, args...); err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
