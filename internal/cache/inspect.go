package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/stampede-cache/stampede/internal/storage"
)

// Report describes a stored entry as an item with opts would see it.
type Report struct {
	Key          string    `json:"key"`
	Exists       bool      `json:"exists"`
	Expired      bool      `json:"expired"`
	Expiration   time.Time `json:"expiration,omitzero"`
	StorageUntil time.Time `json:"storage_until,omitzero"`
	AgeSeconds   int64     `json:"age_seconds,omitempty"`
	// Digest is the xxhash64 of the stored payload, for comparing hosts.
	Digest       string   `json:"digest,omitempty"`
	Locked       bool     `json:"locked_elsewhere,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// Inspect reports on key without decoding the value. When the
// backend can lock, it probes the lock and releases it immediately, so
// Locked is true only while another party regenerates the entry.
func Inspect(ctx context.Context, s storage.Storage, key string, opts Options) (Report, error) {
	if s == nil {
		return Report{}, ErrNoAttachedStorage
	}
	item := NewItem[json.RawMessage](key, s, WithOptions(opts))
	caps := item.binding.caps
	report := Report{Key: key, Capabilities: caps.Names()}

	exists, err := item.Exists(ctx, false)
	if err != nil {
		return Report{}, err
	}
	report.Exists = exists
	report.Expired = !exists

	if exists {
		expired, err := item.Expired(ctx)
		if err != nil {
			return Report{}, err
		}
		report.Expired = expired
		if caps.ExpirationReader != nil {
			report.Expiration, _ = item.Expiration(ctx)
			report.StorageUntil, _ = caps.Expiration(ctx, key)
		}
		data, err := s.Get(ctx, key)
		switch {
		case err == nil:
			report.Digest = fmt.Sprintf("%016x", xxhash.Sum64(data))
		case !errors.Is(err, storage.ErrNotFound):
			return Report{}, err
		}
		if age, err := caps.Age(ctx, key); err == nil {
			report.AgeSeconds = int64(age / time.Second)
		} else if !errors.Is(err, storage.ErrUnsupported) && !errors.Is(err, storage.ErrNotFound) {
			return Report{}, err
		}
	}

	if caps.Locker != nil {
		acquired, err := item.lock(ctx)
		if err != nil {
			return Report{}, err
		}
		if acquired {
			if _, err := item.Release(ctx); err != nil {
				return Report{}, err
			}
		}
		report.Locked = !acquired
	}
	return report, nil
}
