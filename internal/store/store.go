// Package store persists small named documents (settings, device history)
// behind one interface with file, redis and in-memory backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Load when the key has never been saved or was
// deleted.
var ErrNotFound = errors.New("key not found")

// Store loads and saves values by string key. Values must be serializable
// by both encoding/json and yaml.v3.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Well-known keys.
const (
	KeySettings = "rcdrive:settings"
	KeyHistory  = "rcdrive:history"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Dir is the FileStore directory.
	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the backend named in opts.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		return NewFileStore(opts.Dir), nil
	case BackendRedis:
		var ropts []RedisOption
		if opts.RedisPrefix != "" {
			ropts = append(ropts, WithPrefix(opts.RedisPrefix))
		}
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, ropts...), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want file, redis or memory)", opts.Backend)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key cannot be empty")
	}
	return nil
}
