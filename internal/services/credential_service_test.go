package services

import (
	"context"
	"errors"
	"testing"
)

func TestCredentialService_SetValidatesAndMasks(t *testing.T) {
	e := newEnv(t)
	svc := e.creds
	ctx := context.Background()

	for _, bad := range []string{"", "pk-abcdefghijklmnopqrstuvwxyz", "sk-short", "sk-abc def ghi jkl mno pqr"} {
		var ve *ValidationError
		if _, err := svc.Set(ctx, "u1", bad); !errors.As(err, &ve) {
			t.Fatalf("Set(%q) = %v, want validation error", bad, err)
		}
	}

	key := "sk-abcdefghijklmnopqrstuvwxyz1234"
	info, err := svc.Set(ctx, "u1", "  "+key+"  ")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if info.Hint != "sk-****1234" || info.Provider != "openai" {
		t.Fatalf("info = %+v", info)
	}

	got, ok, err := svc.GetActiveKey(ctx, "u1")
	if err != nil || !ok || got != key {
		t.Fatalf("active key = %q %v %v", got, ok, err)
	}

	cred, err := svc.Resolve(ctx, "u1")
	if err != nil || cred.APIKey != key || cred.UserID != "u1" {
		t.Fatalf("resolve = %+v %v", cred, err)
	}
}

func TestCredentialService_MissingAndDelete(t *testing.T) {
	e := newEnv(t)
	svc := e.creds
	ctx := context.Background()

	if _, err := svc.Get(ctx, "u1"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing, got %v", err)
	}
	if _, ok, err := svc.GetActiveKey(ctx, "u1"); ok || err != nil {
		t.Fatalf("unexpected key: %v %v", ok, err)
	}
	cred, err := svc.Resolve(ctx, "u1")
	if err != nil || cred.APIKey != "" {
		t.Fatalf("optional credential: %+v %v", cred, err)
	}

	svc.RequireCredential = true
	if _, err := svc.Resolve(ctx, "u1"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing, got %v", err)
	}

	if _, err := svc.Set(ctx, "u1", "sk-abcdefghijklmnopqrstuvwxyz1234"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "u1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := svc.Get(ctx, "u1"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing after delete, got %v", err)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("sk-1"); got != "sk-****" {
		t.Fatalf("short = %q", got)
	}
	if got := MaskKey("sk-proj-XYZW9876"); got != "sk-****9876" {
		t.Fatalf("long = %q", got)
	}
}
