// Package dedupe provides the at-most-once bookkeeping for published
// commits. Two implementations exist: an append-only file for single-writer
// CLI use, and a GORM-backed store whose unique-index insert is atomic under
// concurrent webhook deliveries.
package dedupe

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/commitcast/commitcast/internal/repo"
)

// Meta describes a confirmed publish, stored alongside the key so a
// re-delivery can be answered idempotently.
type Meta struct {
	// PostURI is the backend-assigned identifier of the post.
	PostURI string
	// Backend names the network the post went to.
	Backend string
}

// Store records which dedupe keys have been published. The claim step is
// what makes the guarantee hold under concurrency: a caller must win
// Claim before attempting a publish, so two racers for one key cannot both
// observe "not seen" and both reach the backend. Confirm fills in the
// publish metadata after success; Release drops the claim after a failed
// publish so a later retry can still post.
type Store interface {
	// Seen reports whether key has been claimed or confirmed. It is a
	// read-only check for callers that must not take a claim (dry runs).
	Seen(ctx context.Context, key string) (bool, error)
	// Claim atomically marks key as taken. It returns false when another
	// caller already holds or confirmed the key.
	Claim(ctx context.Context, key string) (bool, error)
	// Confirm attaches the publish metadata to a held claim.
	Confirm(ctx context.Context, key string, meta Meta) error
	// Release drops a held claim so the key can be claimed again.
	Release(ctx context.Context, key string) error
}

// ServerKey builds the namespaced dedupe key used in server mode.
func ServerKey(repoID, sha string) string {
	return "gh:" + repoID + ":" + sha
}

// GormStore implements Store on the shared posted_records table. Claim is a
// plain insert against the unique key index, which is atomic at the
// database level: concurrent claims for one key collapse to a single
// winner.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

// Seen implements Store.
func (s *GormStore) Seen(ctx context.Context, key string) (bool, error) {
	_, err := repo.GetPosted(ctx, s.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Claim implements Store. A unique-constraint collision means another
// request holds the key already.
func (s *GormStore) Claim(ctx context.Context, key string) (bool, error) {
	_, err := repo.CreatePosted(ctx, s.DB, key, "", "")
	if errors.Is(err, repo.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Confirm implements Store.
func (s *GormStore) Confirm(ctx context.Context, key string, meta Meta) error {
	return repo.ConfirmPosted(ctx, s.DB, key, meta.PostURI, meta.Backend)
}

// Release implements Store.
func (s *GormStore) Release(ctx context.Context, key string) error {
	return repo.DeletePosted(ctx, s.DB, key)
}
