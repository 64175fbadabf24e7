// Package publish contains the social backend adapters. A Publisher
// authenticates against one network and submits a single post; failures are
// terminal for the invocation (one re-authentication attempt aside) and are
// surfaced as ErrAuthFailed or ErrPostFailed so callers can decide whether
// the dedupe key may be recorded.
package publish

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/commitcast/commitcast/internal/domain"
)

// ErrAuthFailed indicates the backend rejected our credentials.
var ErrAuthFailed = errors.New("authentication failed")

// ErrPostFailed indicates the backend rejected the post submission.
var ErrPostFailed = errors.New("post failed")

// Receipt identifies a successfully created post.
type Receipt struct {
	// URI is the backend-assigned identifier (AT-URI or tweet ID).
	URI string
	// CID is the content identifier (Bluesky only).
	CID string
}

// Publisher submits one post to a social backend.
type Publisher interface {
	// Name returns the backend label used in logs and dedupe records.
	Name() string
	// Publish authenticates as needed and creates the post.
	Publish(ctx context.Context, draft domain.PostDraft) (Receipt, error)
}

// DryRun wraps a backend name and prints what would have been submitted
// instead of contacting the network. Callers must not record dry-run
// receipts in the dedupe store.
type DryRun struct {
	Backend string
}

// Name implements Publisher.
func (d DryRun) Name() string { return d.Backend }

// Publish implements Publisher by logging the draft deterministically.
func (d DryRun) Publish(_ context.Context, draft domain.PostDraft) (Receipt, error) {
	ev := log.Info().
		Str("backend", d.Backend).
		Str("text", draft.Text).
		Strs("hashtags", draft.Hashtags)
	if draft.Embed != nil {
		ev = ev.
			Str("embed_title", draft.Embed.Title).
			Str("embed_url", draft.Embed.URL).
			Str("embed_description", draft.Embed.Description)
	}
	ev.Msg("dry run: post not submitted")
	return Receipt{URI: "dry-run"}, nil
}
