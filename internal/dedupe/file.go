package dedupe

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

// FileStore is the local-mode Store: an append-only text file holding one
// confirmed key per line. Claims are held in memory only, so a key is
// written exactly when its publish was confirmed and a failed publish
// leaves nothing behind. The store assumes a single writer on a single
// machine; that is an accepted limitation of CLI mode.
type FileStore struct {
	Path string
}

// NewFileStore returns a Store persisting to path. The file is created on
// first Confirm.
func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

// Seen implements Store by linear-scanning the file for an exact line match.
// A missing file means nothing has been confirmed yet.
func (s *FileStore) Seen(_ context.Context, key string) (bool, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open dedupe file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sc.Text() == key {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("scan dedupe file: %w", err)
	}
	return false, nil
}

// Claim implements Store. Single-writer semantics make the read sufficient;
// nothing is written until Confirm.
func (s *FileStore) Claim(ctx context.Context, key string) (bool, error) {
	seen, err := s.Seen(ctx, key)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// Confirm implements Store by appending the key as a line. An
// already-confirmed key is left alone.
func (s *FileStore) Confirm(ctx context.Context, key string, _ Meta) error {
	seen, err := s.Seen(ctx, key)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dedupe file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("append dedupe key: %w", err)
	}
	return nil
}

// Release implements Store. Claims never touch the file, so there is
// nothing to undo.
func (s *FileStore) Release(context.Context, string) error { return nil }
