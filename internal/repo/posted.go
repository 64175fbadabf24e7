// Posted-record persistence. The unique index on posted_records.key turns a
// plain insert into the atomic set-if-not-exists primitive the server-mode
// dedupe guarantee rests on: two concurrent inserts for the same key cannot
// both succeed.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/commitcast/commitcast/internal/domain"
)

// ErrNotFound indicates no posted record exists for the key.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates a posted record already exists for the key.
var ErrDuplicate = errors.New("duplicate")

// GetPosted returns the record for key or ErrNotFound.
func GetPosted(ctx context.Context, db *gorm.DB, key string) (*domain.PostedRecord, error) {
	var rec domain.PostedRecord
	err := db.WithContext(ctx).Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreatePosted inserts a record and returns ErrDuplicate on unique violation.
func CreatePosted(ctx context.Context, db *gorm.DB, key, postURI, backend string) (*domain.PostedRecord, error) {
	rec := &domain.PostedRecord{
		ID:        uuid.NewString(),
		Key:       key,
		PostURI:   postURI,
		Backend:   backend,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ConfirmPosted fills in the publish metadata on an existing row, typically
// a claim created with empty fields before the publish attempt. ErrNotFound
// means no row holds the key.
func ConfirmPosted(ctx context.Context, db *gorm.DB, key, postURI, backend string) error {
	res := db.WithContext(ctx).
		Model(&domain.PostedRecord{}).
		Where("key = ?", key).
		Updates(map[string]any{"post_uri": postURI, "backend": backend})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePosted removes the row for key. Deleting an absent key is not an
// error.
func DeletePosted(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Where("key = ?", key).Delete(&domain.PostedRecord{}).Error
}
