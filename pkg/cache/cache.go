// Package cache stores generated card artifacts. Generation is
// deterministic, so an artifact can be reused whenever the request, the
// effective settings and the export format are the same.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chazu/printmycard/pkg/errors"
)

// Cache is a byte store with per-entry expiry.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key. A zero ttl never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone  = "none"
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Dir       string // file backend
	RedisAddr string // redis backend
}

// Open returns the configured cache. An empty backend means none.
func Open(ctx context.Context, o Options) (Cache, error) {
	switch o.Backend {
	case "", BackendNone:
		return NewNullCache(), nil
	case BackendFile:
		if o.Dir == "" {
			return nil, errors.New(errors.ErrCodeConfiguration, "file cache needs a directory")
		}
		c, err := NewFileCache(o.Dir)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "open file cache")
		}
		return c, nil
	case BackendRedis:
		c, err := NewRedisCache(ctx, o.RedisAddr)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, errors.New(errors.ErrCodeConfiguration, "unknown cache backend %q", o.Backend)
}

// Hash computes a SHA-256 hash of the input data as 64 hex characters.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ArtifactKey derives the key of an exported artifact from the canonical
// request, the effective settings and the format.
func ArtifactKey(request []byte, settings any, format string) string {
	data, _ := json.Marshal([]any{json.RawMessage(request), settings, format})
	return fmt.Sprintf("artifact:%s:%s", format, Hash(data))
}
