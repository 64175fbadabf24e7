// Package domain defines the core types shared across the application:
// the commit being evaluated, the composed post draft, trigger decisions,
// and the persistence model for the shared dedupe table. The PostedRecord
// type is mapped with GORM; everything else is plain data.
package domain

import "time"

// CommitRecord represents one evaluated commit. It is constructed fresh per
// invocation from either the local git repository or a webhook payload and
// never mutated afterwards.
type CommitRecord struct {
	// SHA is the full 40-hex-character commit identifier.
	SHA string
	// Message is the full, possibly multi-line commit message.
	Message string
	// Author is the commit author's display name.
	Author string
	// Branch is the branch the commit was pushed on (without refs/heads/).
	Branch string
	// Ref is the full git ref of the push (e.g. refs/heads/main). Empty in
	// local mode.
	Ref string
	// Repo is the "owner/repo" identifier. Empty when the remote is not a
	// recognized GitHub URL.
	Repo string
	// CommitURL is the canonical GitHub URL of the commit, when derivable.
	CommitURL string
	// DefaultBranch is the repository's reported default branch (webhook
	// payloads carry it; local mode leaves it empty).
	DefaultBranch string
}

// ShortSHA returns the first 7 characters of the commit SHA.
func (c CommitRecord) ShortSHA() string {
	if len(c.SHA) < 7 {
		return c.SHA
	}
	return c.SHA[:7]
}

// RepoEnrichment is optional repository metadata fetched to improve post
// quality. All fields may be empty; enrichment failures degrade silently.
type RepoEnrichment struct {
	Description string
	Homepage    string
	Topics      []string
}

// Embed is an optional external-link card attached to a post.
type Embed struct {
	Title       string
	URL         string
	Description string
}

// PostDraft is the fully composed, length-bounded text ready for submission
// to a backend, plus optional structured trimmings.
type PostDraft struct {
	// Text is the post body. Its rune length never exceeds the backend's
	// character limit; when truncated it ends with a single ellipsis.
	Text string
	// Embed is an optional external-link card (Bluesky only).
	Embed *Embed
	// Hashtags lists the tags already embedded in Text, for logging.
	Hashtags []string
}

// Decision is the outcome of trigger evaluation for a commit.
type Decision int

const (
	// Proceed means the commit passed every gate and should be published.
	Proceed Decision = iota
	// SkipNoSemver means the gate required a semver token the message does
	// not carry. It is also the label when an "or" gate matched nothing.
	SkipNoSemver
	// SkipNoKeyword means the gate required the @publish marker and the
	// message carries none.
	SkipNoKeyword
	// SkipBranch means the push did not target the effective branch.
	SkipBranch
	// SkipRepoNotAllowed means the repository failed the allowlist.
	SkipRepoNotAllowed
	// SkipAlreadyPosted means the dedupe store already holds this commit.
	SkipAlreadyPosted
)

// String returns the stable reason label used in logs and HTTP responses.
func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipNoSemver:
		return "no_semver"
	case SkipNoKeyword:
		return "no_publish_keyword"
	case SkipBranch:
		return "wrong_branch"
	case SkipRepoNotAllowed:
		return "repo_not_allowed"
	case SkipAlreadyPosted:
		return "already_posted"
	default:
		return "unknown"
	}
}

// PostedRecord marks a commit as published. The unique index on Key is what
// makes server-mode dedupe atomic: two concurrent inserts for the same key
// collapse to one winner at the database level.
type PostedRecord struct {
	ID string `gorm:"type:char(36);primaryKey"`
	// Key is "<namespace>:<owner/repo>:<sha>" in server mode.
	Key string `gorm:"type:varchar(255);not null;uniqueIndex:ux_posted_key"`
	// PostURI is the backend-assigned identifier of the published post
	// (AT-URI for Bluesky, tweet ID for Twitter).
	PostURI   string `gorm:"type:text"`
	Backend   string `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
}

// TableName returns the database table name for PostedRecord.
func (PostedRecord) TableName() string { return "posted_records" }
