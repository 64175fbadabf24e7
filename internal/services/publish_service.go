// Package services wires the trigger evaluator, dedupe store, composer and
// publisher into the per-invocation pipeline. The at-most-once guarantee
// lives here: the dedupe key is claimed atomically before any publish
// attempt, so concurrent deliveries of one commit collapse to a single
// publisher call, and the claim is confirmed only after a successful
// publish (or released after a failed one, keeping retries possible).
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/commitcast/commitcast/internal/compose"
	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/dedupe"
	"github.com/commitcast/commitcast/internal/domain"
	"github.com/commitcast/commitcast/internal/publish"
	"github.com/commitcast/commitcast/internal/trigger"
)

var (
	// postsTotal counts pipeline outcomes: posted, the skip reasons, and
	// the failure classes.
	postsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitcast_posts_total",
			Help: "Total pipeline outcomes by result.",
		},
		[]string{"outcome"},
	)

	// publishDuration records the latency of backend publish calls.
	publishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commitcast_publish_duration_seconds",
			Help:    "Duration of social backend publish calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(postsTotal, publishDuration)
}

// Statuses reported to callers (and serialized into webhook responses).
const (
	StatusPosted = "posted"
	StatusSkip   = "skip"
)

// Outcome describes what the pipeline did with a commit.
type Outcome struct {
	// Status is "posted" or "skip".
	Status string
	// Reason disambiguates skips; empty when posted.
	Reason string
	// Receipt identifies the created post when Status is "posted".
	Receipt publish.Receipt
}

// Enricher fetches optional repository metadata; nil results are fine.
type Enricher interface {
	Fetch(ctx context.Context, repo string) *domain.RepoEnrichment
}

// PublishService runs the evaluate → dedupe → compose → publish → record
// pipeline for one commit at a time. It is safe for concurrent use when its
// collaborators are.
type PublishService struct {
	// Trigger holds the gating options.
	Trigger config.TriggerConfig
	// Store provides the at-most-once bookkeeping.
	Store dedupe.Store
	// Publisher submits the post.
	Publisher publish.Publisher
	// Composer assembles the draft.
	Composer *compose.Composer
	// Enricher is optional repository metadata; may be nil.
	Enricher Enricher
	// DryRun prevents the record step so test posts never burn a key.
	DryRun bool
	// ScopedKeys selects the namespaced server-mode dedupe key; local mode
	// records the bare SHA.
	ScopedKeys bool
}

// KeyFor returns the dedupe key for a commit.
func (s *PublishService) KeyFor(commit domain.CommitRecord) string {
	if s.ScopedKeys {
		return dedupe.ServerKey(commit.Repo, commit.SHA)
	}
	return commit.SHA
}

// Run executes the pipeline. Skips are not errors: they return a skip
// Outcome and a nil error. Errors are store failures or terminal publisher
// failures (publish.ErrAuthFailed / publish.ErrPostFailed); in the latter
// case the dedupe key is left unrecorded so a later retry can succeed.
func (s *PublishService) Run(ctx context.Context, commit domain.CommitRecord) (Outcome, error) {
	lg := log.With().
		Str("sha", commit.ShortSHA()).
		Str("repo", commit.Repo).
		Logger()

	if decision := trigger.Evaluate(commit, s.Trigger); decision != domain.Proceed {
		lg.Info().Str("reason", decision.String()).Msg("commit skipped")
		postsTotal.WithLabelValues(decision.String()).Inc()
		return Outcome{Status: StatusSkip, Reason: decision.String()}, nil
	}

	// Dry runs must leave the store untouched, so they only read; real runs
	// claim the key before publishing. The claim is the atomic step: two
	// racers for one key cannot both win it, so at most one reaches the
	// backend.
	key := s.KeyFor(commit)
	var taken bool
	var err error
	if s.DryRun {
		var seen bool
		seen, err = s.Store.Seen(ctx, key)
		taken = !seen
	} else {
		taken, err = s.Store.Claim(ctx, key)
	}
	if err != nil {
		postsTotal.WithLabelValues("store_error").Inc()
		return Outcome{}, fmt.Errorf("dedupe claim for %s: %w", key, err)
	}
	if !taken {
		lg.Info().Str("reason", domain.SkipAlreadyPosted.String()).Msg("commit skipped")
		postsTotal.WithLabelValues(domain.SkipAlreadyPosted.String()).Inc()
		return Outcome{Status: StatusSkip, Reason: domain.SkipAlreadyPosted.String()}, nil
	}

	var enrichment *domain.RepoEnrichment
	if s.Enricher != nil {
		enrichment = s.Enricher.Fetch(ctx, commit.Repo)
	}

	draft := s.Composer.Compose(ctx, commit, enrichment)

	start := time.Now()
	receipt, err := s.Publisher.Publish(ctx, draft)
	publishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		postsTotal.WithLabelValues("publish_error").Inc()
		if !s.DryRun {
			// Nothing was posted; give the key back so a retry can succeed.
			if rerr := s.Store.Release(ctx, key); rerr != nil {
				lg.Error().Err(rerr).Str("key", key).Msg("claim release failed; key stays blocked")
			}
		}
		return Outcome{}, err
	}

	if s.DryRun {
		lg.Info().Msg("dry run: dedupe key not recorded")
	} else if err := s.Store.Confirm(ctx, key, dedupe.Meta{
		PostURI: receipt.URI,
		Backend: s.Publisher.Name(),
	}); err != nil {
		// The post went out and the claim already blocks duplicates; a
		// failed confirm only loses the post URI on the record.
		lg.Error().Err(err).Str("key", key).Msg("posted but dedupe confirm failed")
	}

	lg.Info().
		Str("backend", s.Publisher.Name()).
		Str("post_uri", receipt.URI).
		Msg("commit posted")
	postsTotal.WithLabelValues(StatusPosted).Inc()
	return Outcome{Status: StatusPosted, Receipt: receipt}, nil
}
