// Package auth resolves API credentials to acting subjects. Authorization
// itself lives in the authz registry; this package only answers "who is
// calling".
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/workmesh/workmesh/internal/shared"
)

// APIKey pairs a subject id with the bcrypt hash of its bearer key.
type APIKey struct {
	Subject int64
	Hash    string
}

// Service authenticates bearer keys. Successful lookups are cached in redis
// keyed by the key's SHA-256 so the bcrypt comparison runs once per key, not
// per request.
type Service struct {
	keys     []APIKey
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewService constructs a Service. cache may be nil to disable caching.
func NewService(keys []APIKey, cache *redis.Client, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Service{keys: keys, cache: cache, cacheTTL: cacheTTL}
}

// HashKey produces a bcrypt hash for a plaintext API key. Used by the seed
// script and tests.
func HashKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash key: %w", err)
	}
	return string(hash), nil
}

// Authenticate resolves a bearer key to its subject id.
func (s *Service) Authenticate(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, shared.ErrUnauthorized
	}
	fingerprint := fingerprintOf(key)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(fingerprint)).Result(); err == nil {
			if subject, err := strconv.ParseInt(cached, 10, 64); err == nil {
				return subject, nil
			}
		}
	}
	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			if s.cache != nil {
				_ = s.cache.Set(ctx, cacheKey(fingerprint), strconv.FormatInt(k.Subject, 10), s.cacheTTL).Err()
			}
			return k.Subject, nil
		}
	}
	return 0, shared.ErrUnauthorized
}

func fingerprintOf(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func cacheKey(fingerprint string) string {
	return "auth:key:" + fingerprint
}
