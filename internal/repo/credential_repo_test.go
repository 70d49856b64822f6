package repo

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertCredential_ReplacesKey(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	first, err := UpsertCredential(ctx, db, "u1", "openai", "sk-one")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := UpsertCredential(ctx, db, "u1", "openai", "sk-two")
	if err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got %s vs %s", first.ID, second.ID)
	}
	if second.APIKey != "sk-two" {
		t.Fatalf("key not replaced: %q", second.APIKey)
	}

	var n int64
	db.Table("credentials").Where("user_id = ?", "u1").Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one credential, got %d", n)
	}

	if err := DeleteCredential(ctx, db, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetCredential(ctx, db, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := DeleteCredential(ctx, db, "u1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
