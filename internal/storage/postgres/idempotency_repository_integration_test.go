package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	record, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected status: %s", record.Status)
	}

	existing, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) || existing.Key != "key-1" {
		t.Fatalf("expected already exists with record, got %+v (%v)", existing, err)
	}
	if _, err := repo.CreateProcessing(ctx, "key-1", "hash-2", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}

	if err := repo.MarkDone(ctx, "key-1", []byte(`{"id":"order-1"}`), 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	done, err := repo.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != domain.IdempotencyStatusDone || done.HTTPStatus != 201 || string(done.ResponseBody) != `{"id":"order-1"}` {
		t.Fatalf("unexpected record: %+v", done)
	}

	if err := repo.MarkFailed(ctx, "missing", nil, 500); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.Get(ctx, " "); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
}

func TestIdempotencyRepository_PostgresExpiry(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"old-1", "old-2", "old-3"} {
		if _, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Minute)); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing(ctx, "live", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("create live: %v", err)
	}

	reused, err := repo.CreateProcessing(ctx, "old-1", "new-hash", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("expired key must be reusable: %v", err)
	}
	if reused.RequestHash != "new-hash" {
		t.Fatalf("unexpected reused record: %+v", reused)
	}

	deleted, err := repo.DeleteExpired(ctx, now, 1)
	if err != nil || deleted != 1 {
		t.Fatalf("expected 1 deleted with limit, got %d (%v)", deleted, err)
	}
	deleted, err = repo.DeleteExpired(ctx, now, 0)
	if err != nil || deleted != 1 {
		t.Fatalf("expected remaining expired key deleted, got %d (%v)", deleted, err)
	}

	for _, key := range []string{"old-1", "live"} {
		if _, err := repo.Get(ctx, key); err != nil {
			t.Fatalf("%s must survive cleanup: %v", key, err)
		}
	}
}
