package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIdempotency_CreateGetDuplicate(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m1", 201, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	rec, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC())
	if err != nil || rec.MessageID != "m1" {
		t.Fatalf("get = %+v, %v", rec, err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC().Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be hidden, got %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "  ", "k1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank conversation should be ErrNotFound, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: x.y")) {
		t.Fatal("sqlite text should match")
	}
	if IsUniqueViolation(errors.New("other")) {
		t.Fatal("unexpected match")
	}
}
