package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dogsense/ingestion/internal/domain"
)

// PetStateTTL bounds how long a pet's live state outlives its last reading.
const PetStateTTL = 10 * time.Minute

const petGeoKey = "pets:geo"

// Redis geo indexes reject latitudes beyond this.
const maxGeoLatitude = 85.05112878

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func PetStateKey(petID int64) string {
	return fmt.Sprintf("pet:%d:state", petID)
}

func PetTelemetryChannel(petID int64) string {
	return fmt.Sprintf("pet:%d:telemetry", petID)
}

func PetAlertChannel(petID int64) string {
	return fmt.Sprintf("pet:%d:alerts", petID)
}

// petState flattens the reported fields of a reading. Unreported fields are
// left out so an older value in the hash survives.
func petState(petID int64, reading *domain.TelemetryReading) map[string]any {
	state := map[string]any{
		"pet_id":      petID,
		"device_id":   reading.DeviceID,
		"timestamp":   reading.Timestamp.Unix(),
		"received_at": reading.ReceivedAt.Unix(),
	}
	put := func(key string, v *float64) {
		if v != nil {
			state[key] = *v
		}
	}
	put("heart_rate", reading.HeartRate)
	put("temperature", reading.Temperature)
	put("respiratory_rate", reading.RespiratoryRate)
	put("activity_level", reading.ActivityLevel)
	put("calories", reading.Calories)
	if reading.Steps != nil {
		state["steps"] = *reading.Steps
	}
	if loc := reading.Location; loc != nil {
		state["lat"] = loc.Latitude
		state["lng"] = loc.Longitude
		put("speed", loc.Speed)
	}
	return state
}

// UpdatePetState writes the pet's latest reading to its state hash, moves the
// pet on the geo index and publishes the state for live subscribers.
func (r *RedisStore) UpdatePetState(ctx context.Context, petID int64, reading *domain.TelemetryReading) error {
	state := petState(petID, reading)
	pubPayload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	key := PetStateKey(petID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, PetStateTTL)
	if loc := reading.Location; loc != nil && loc.Latitude >= -maxGeoLatitude && loc.Latitude <= maxGeoLatitude {
		pipe.GeoAdd(ctx, petGeoKey, &redis.GeoLocation{
			Name:      fmt.Sprint(petID),
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
		})
	}
	pipe.Publish(ctx, PetTelemetryChannel(petID), pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// PublishAlert publishes payload on the pet's alert channel, or on the shared
// channel for alerts without a pet.
func (r *RedisStore) PublishAlert(ctx context.Context, petID *int64, payload []byte) error {
	channel := "alerts:unassigned"
	if petID != nil {
		channel = PetAlertChannel(*petID)
	}
	return r.client.Publish(ctx, channel, payload).Err()
}
