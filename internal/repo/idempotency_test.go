package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

func TestIdempotency_CreateThenGet(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})

	rec, err := CreateIdempotency(context.Background(), db, "u1", "s1", "k1", "confirm", 200, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.Operation != "confirm" || rec.Status != 200 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(context.Background(), db, "u1", "s1", "k1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("lookup mismatch: %+v vs %+v", got, rec)
	}
}

func TestIdempotency_DuplicateKey(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	if _, err := CreateIdempotency(context.Background(), db, "u1", "s1", "k1", "confirm", 200, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := CreateIdempotency(context.Background(), db, "u1", "s1", "k1", "confirm", 200, time.Hour)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestIdempotency_ExpiredNotReturned(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	if _, err := CreateIdempotency(context.Background(), db, "u1", "s1", "k1", "confirm", 200, time.Millisecond); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := GetIdempotency(context.Background(), db, "u1", "s1", "k1", time.Now().UTC().Add(time.Second))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

func TestIdempotency_BlankSessionShortCircuits(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	if _, err := GetIdempotency(context.Background(), db, "u1", "  ", "k1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
