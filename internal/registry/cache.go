// Package registry caches device and geofence lookups in front of the store.
package registry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dogsense/ingestion/internal/domain"
)

type Source interface {
	FindDevice(ctx context.Context, id string) (*domain.Device, error)
	ActiveGeofences(ctx context.Context, petID int64) ([]domain.Geofence, error)
}

type deviceEntry struct {
	device    *domain.Device
	expiresAt time.Time
}

type fenceEntry struct {
	fences    []domain.Geofence
	expiresAt time.Time
}

// Cache keeps lookups for ttl. Misses for unknown devices are cached as well,
// so a chatty unregistered device does not hit the database on every message.
// Errors are never cached.
type Cache struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	devices sync.Map
	fences  sync.Map
	group   singleflight.Group
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

func (c *Cache) FindDevice(ctx context.Context, id string) (*domain.Device, error) {
	if raw, ok := c.devices.Load(id); ok {
		entry := raw.(deviceEntry)
		if c.now().Before(entry.expiresAt) {
			return entry.device, nil
		}
		c.devices.Delete(id)
	}

	v, err, _ := c.group.Do("device:"+id, func() (any, error) {
		d, err := c.source.FindDevice(ctx, id)
		if err != nil {
			return nil, err
		}
		c.devices.Store(id, deviceEntry{device: d, expiresAt: c.now().Add(c.ttl)})
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Device), nil
}

func (c *Cache) ActiveGeofences(ctx context.Context, petID int64) ([]domain.Geofence, error) {
	if raw, ok := c.fences.Load(petID); ok {
		entry := raw.(fenceEntry)
		if c.now().Before(entry.expiresAt) {
			return entry.fences, nil
		}
		c.fences.Delete(petID)
	}

	v, err, _ := c.group.Do("fences:"+strconv.FormatInt(petID, 10), func() (any, error) {
		fences, err := c.source.ActiveGeofences(ctx, petID)
		if err != nil {
			return nil, err
		}
		c.fences.Store(petID, fenceEntry{fences: fences, expiresAt: c.now().Add(c.ttl)})
		return fences, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Geofence), nil
}

// Sweep removes every expired entry. Unknown devices are cached too, so
// without it a stream of made-up device ids would grow the cache forever.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	c.devices.Range(func(key, raw any) bool {
		if !now.Before(raw.(deviceEntry).expiresAt) {
			c.devices.Delete(key)
			removed++
		}
		return true
	})
	c.fences.Range(func(key, raw any) bool {
		if !now.Before(raw.(fenceEntry).expiresAt) {
			c.fences.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Run sweeps the cache every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Invalidate drops the cached device and, when given, the pet's geofences.
func (c *Cache) Invalidate(deviceID string, petID *int64) {
	c.devices.Delete(deviceID)
	if petID != nil {
		c.fences.Delete(*petID)
	}
}
