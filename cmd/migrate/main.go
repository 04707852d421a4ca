package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"dogsense/ingestion/internal/config"
	"dogsense/ingestion/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	verify := flag.Bool("verify", true, "check tables and hypertable after migrating up")
	flag.Parse()

	cfg := config.Load()

	fmt.Printf("Migrating %s on %s:%s (%s)...\n", cfg.DBName, cfg.DBHost, cfg.DBPort, *direction)
	err := migrate.Run(cfg.DatabaseURL(), *direction)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		fmt.Println("✓ schema already up to date")
	case err != nil:
		log.Fatalf("Migration failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	default:
		fmt.Println("✓ migrations applied")
	}

	if *direction == "up" && *verify {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := verifySchema(ctx, cfg.DatabaseURL()); err != nil {
			log.Fatalf("Verification failed: %v", err)
		}
	}
}

var tables = []string{"pets", "devices", "geofences", "sensor_data", "alerts", "behavior_analysis"}

func verifySchema(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("table %s was not created", table)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertable string
	err = conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'sensor_data'
	`).Scan(&hypertable)
	if err != nil {
		return fmt.Errorf("sensor_data is not a hypertable: %w", err)
	}
	fmt.Printf("  ✓ hypertable: %s\n", hypertable)
	return nil
}
