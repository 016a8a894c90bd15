package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/workmesh/workmesh/internal/shared"
)

func TestAuthenticateResolvesSubject(t *testing.T) {
	hash, err := HashKey("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := NewService([]APIKey{{Subject: 42, Hash: hash}}, nil, 0)

	subject, err := svc.Authenticate(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject != 42 {
		t.Fatalf("subject = %d, want 42", subject)
	}
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	hash, _ := HashKey("s3cret")
	svc := NewService([]APIKey{{Subject: 42, Hash: hash}}, nil, 0)

	_, err := svc.Authenticate(context.Background(), "wrong")
	if !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), ""); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty key, got %v", err)
	}
}

func TestAuthenticateUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hash, _ := HashKey("s3cret")
	svc := NewService([]APIKey{{Subject: 7, Hash: hash}}, client, time.Minute)

	if _, err := svc.Authenticate(context.Background(), "s3cret"); err != nil {
		t.Fatalf("first authenticate: %v", err)
	}

	// Drop the configured keys: a cache hit must still resolve the subject.
	svc.keys = nil
	subject, err := svc.Authenticate(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("cached authenticate: %v", err)
	}
	if subject != 7 {
		t.Fatalf("subject = %d, want 7", subject)
	}
}
