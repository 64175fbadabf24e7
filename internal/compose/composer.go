// Package compose turns a commit into a bounded-length social post draft.
// Composition is pure given its inputs; the optional AI condensation step is
// failure-tolerant and can never abort a post.
package compose

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/domain"
	"github.com/commitcast/commitcast/internal/trigger"
)

// Character budgets per backend.
const (
	BlueskyLimit = 300
	TwitterLimit = 280
)

// Ellipsis is appended when a draft is hard-truncated.
const Ellipsis = "…"

// BudgetFor returns the character budget of the given backend.
func BudgetFor(backend string) int {
	if backend == config.BackendTwitter {
		return TwitterLimit
	}
	return BlueskyLimit
}

// Summarizer condenses a commit headline into short first-person commentary.
// Implementations talk to an external model; any error makes the composer
// fall back to the unchanged headline.
type Summarizer interface {
	// Condense rewrites headline (~20 words, first person). version, when
	// non-empty, must survive verbatim in the output. wantHashtags asks the
	// model to add its own hashtags because no repository topics exist.
	Condense(ctx context.Context, headline, version string, wantHashtags bool) (string, error)
}

// Composer assembles post drafts for a single backend.
type Composer struct {
	// Limit is the backend character budget (runes).
	Limit int
	// Summarizer optionally condenses the headline. Nil disables the step.
	Summarizer Summarizer
}

// hashRE matches runs of 7-40 hex characters bounded by word boundaries,
// i.e. anything that looks like an abbreviated or full commit hash.
var hashRE = regexp.MustCompile(`\b[0-9a-fA-F]{7,40}\b`)

// spaceRE collapses internal whitespace runs left behind by hash stripping.
var spaceRE = regexp.MustCompile(`\s{2,}`)

var titleCaser = cases.Title(language.English)

// brandTags maps well-known topic names to their canonical hashtag casing.
var brandTags = map[string]string{
	"typescript":  "TypeScript",
	"javascript":  "JavaScript",
	"nodejs":      "NodeJS",
	"github":      "GitHub",
	"webassembly": "WebAssembly",
	"postgresql":  "PostgreSQL",
	"mongodb":     "MongoDB",
	"graphql":     "GraphQL",
}

// Headline extracts the first line of a commit message and strips anything
// that looks like a commit hash, collapsing leftover whitespace.
func Headline(message string) string {
	line := message
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	line = hashRE.ReplaceAllString(line, "")
	line = spaceRE.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// HashtagFor converts a repository topic into a hashtag. Known brand names
// keep their canonical casing; everything else is split on hyphens with each
// segment's first letter capitalized.
func HashtagFor(topic string) string {
	t := strings.ToLower(strings.TrimSpace(topic))
	if t == "" {
		return ""
	}
	if brand, ok := brandTags[t]; ok {
		return "#" + brand
	}
	var b strings.Builder
	for _, seg := range strings.Split(t, "-") {
		if seg == "" {
			continue
		}
		b.WriteString(titleCaser.String(seg))
	}
	if b.Len() == 0 {
		return ""
	}
	return "#" + b.String()
}

// Compose builds the post draft for a commit. enrich may be nil. Steps, in
// order: headline extraction and hash stripping, optional AI condensation
// (fail-open), topic hashtags, byline, commit URL and trace tag, and budget
// enforcement with a trailing ellipsis when cut.
func (c *Composer) Compose(ctx context.Context, commit domain.CommitRecord, enrich *domain.RepoEnrichment) domain.PostDraft {
	text := Headline(commit.Message)

	var tags []string
	if enrich != nil {
		for _, topic := range enrich.Topics {
			if tag := HashtagFor(topic); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	if c.Summarizer != nil {
		condensed, err := c.Summarizer.Condense(ctx, text, trigger.SemverToken(commit.Message), len(tags) == 0)
		if err == nil && strings.TrimSpace(condensed) != "" {
			text = strings.TrimSpace(condensed)
		}
	}

	parts := []string{text}
	if len(tags) > 0 {
		parts = append(parts, strings.Join(tags, " "))
	}
	if byline := c.byline(commit); byline != "" {
		parts = append(parts, byline)
	}
	if commit.CommitURL != "" {
		parts = append(parts, commit.CommitURL)
	}
	if commit.SHA != "" {
		parts = append(parts, "#gh_"+commit.ShortSHA())
	}

	joined := strings.Join(nonEmpty(parts), " ")

	draft := domain.PostDraft{
		Text:     Truncate(joined, c.Limit),
		Hashtags: tags,
	}
	if enrich != nil && commit.CommitURL != "" && commit.Repo != "" {
		draft.Embed = &domain.Embed{
			Title:       commit.Repo,
			URL:         commit.CommitURL,
			Description: enrich.Description,
		}
	}
	return draft
}

// byline renders "owner/repo by Author (abc1234)" with whichever parts exist.
func (c *Composer) byline(commit domain.CommitRecord) string {
	var b strings.Builder
	if commit.Repo != "" {
		b.WriteString(commit.Repo)
	}
	if commit.Author != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("by " + commit.Author)
	}
	if commit.SHA != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(fmt.Sprintf("(%s)", commit.ShortSHA()))
	}
	return b.String()
}

// Truncate enforces a rune budget: text within the limit is returned
// unchanged, otherwise it is cut to exactly limit runes ending in a single
// ellipsis.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + Ellipsis
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
