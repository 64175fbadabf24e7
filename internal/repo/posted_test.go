package repo

import (
	"context"
	"errors"
	"testing"
)

func TestGetPosted_NotFound(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := GetPosted(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetPosted = %v; want ErrNotFound", err)
	}
}

func TestCreatePosted_ThenGet(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	rec, err := CreatePosted(ctx, db, "gh:myorg/app:abc", "at://did:plc:x/app.bsky.feed.post/1", "bluesky")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Fatalf("record not fully populated: %+v", rec)
	}

	got, err := GetPosted(ctx, db, "gh:myorg/app:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PostURI != "at://did:plc:x/app.bsky.feed.post/1" || got.Backend != "bluesky" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCreatePosted_DuplicateKey(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	if _, err := CreatePosted(ctx, db, "gh:myorg/app:abc", "uri-1", "bluesky"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreatePosted(ctx, db, "gh:myorg/app:abc", "uri-2", "bluesky"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second create = %v; want ErrDuplicate", err)
	}

	// The original record wins.
	got, err := GetPosted(ctx, db, "gh:myorg/app:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PostURI != "uri-1" {
		t.Fatalf("PostURI = %q; want the first writer's value", got.PostURI)
	}
}
