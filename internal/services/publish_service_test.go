package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/commitcast/commitcast/internal/compose"
	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/dedupe"
	"github.com/commitcast/commitcast/internal/domain"
	"github.com/commitcast/commitcast/internal/publish"
)

// fakeStore is a mutex-guarded in-memory Store with the same atomic
// set-if-not-exists claim semantics as the GORM implementation.
type fakeStore struct {
	mu      sync.Mutex
	claims  map[string]dedupe.Meta
	seenErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{claims: make(map[string]dedupe.Meta)}
}

func (f *fakeStore) Seen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenErr != nil {
		return false, f.seenErr
	}
	_, ok := f.claims[key]
	return ok, nil
}

func (f *fakeStore) Claim(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenErr != nil {
		return false, f.seenErr
	}
	if _, ok := f.claims[key]; ok {
		return false, nil
	}
	f.claims[key] = dedupe.Meta{}
	return true, nil
}

func (f *fakeStore) Confirm(_ context.Context, key string, meta dedupe.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[key] = meta
	return nil
}

func (f *fakeStore) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, key)
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
	last  domain.PostDraft
}

func (f *fakePublisher) Name() string { return "fake" }

func (f *fakePublisher) Publish(_ context.Context, draft domain.PostDraft) (publish.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = draft
	if f.err != nil {
		return publish.Receipt{}, f.err
	}
	return publish.Receipt{URI: "at://did:plc:abc/app.bsky.feed.post/1"}, nil
}

type fakeEnricher struct {
	calls int
	meta  *domain.RepoEnrichment
}

func (f *fakeEnricher) Fetch(_ context.Context, _ string) *domain.RepoEnrichment {
	f.calls++
	return f.meta
}

func testCommit() domain.CommitRecord {
	return domain.CommitRecord{
		SHA:     "0123456789abcdef0123456789abcdef01234567",
		Message: "release v1.2.3",
		Author:  "Ada",
		Repo:    "myorg/app",
	}
}

func newService(store dedupe.Store, pub publish.Publisher) *PublishService {
	return &PublishService{
		Trigger:   config.TriggerConfig{Mode: config.GateOr},
		Store:     store,
		Publisher: pub,
		Composer:  &compose.Composer{Limit: compose.BlueskyLimit},
	}
}

func TestRun_PostsAndRecords(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub)

	out, err := svc.Run(context.Background(), testCommit())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusPosted {
		t.Fatalf("status = %q; want %q (reason %q)", out.Status, StatusPosted, out.Reason)
	}
	if pub.calls != 1 {
		t.Errorf("publish calls = %d; want 1", pub.calls)
	}
	meta, ok := store.claims[svc.KeyFor(testCommit())]
	if !ok {
		t.Fatal("dedupe key was not recorded after a confirmed publish")
	}
	if meta.Backend != "fake" || meta.PostURI == "" {
		t.Errorf("recorded meta = %+v", meta)
	}
}

func TestRun_SecondCallSkipsWithoutPublishing(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub)

	if _, err := svc.Run(context.Background(), testCommit()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	out, err := svc.Run(context.Background(), testCommit())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if out.Status != StatusSkip || out.Reason != domain.SkipAlreadyPosted.String() {
		t.Fatalf("second outcome = %+v; want skip/already_posted", out)
	}
	if pub.calls != 1 {
		t.Errorf("publish calls = %d; want exactly 1 across both runs", pub.calls)
	}
}

// gatedPublisher blocks inside Publish until released, so a test can hold
// one pipeline mid-publish while another races for the same key.
type gatedPublisher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (p *gatedPublisher) Name() string { return "gated" }

func (p *gatedPublisher) Publish(context.Context, domain.PostDraft) (publish.Receipt, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-p.release
	return publish.Receipt{URI: "at://did:plc:abc/app.bsky.feed.post/1"}, nil
}

// Concurrent deliveries of one commit must collapse to a single publish:
// the loser has to lose at the claim, before the backend is touched, not at
// the record step afterwards.
func TestRun_ConcurrentSameCommitPublishesOnce(t *testing.T) {
	store := newFakeStore()
	pub := &gatedPublisher{release: make(chan struct{})}
	svc := newService(store, pub)

	results := make(chan Outcome, 2)
	for range 2 {
		go func() {
			out, err := svc.Run(context.Background(), testCommit())
			if err != nil {
				t.Errorf("Run: %v", err)
			}
			results <- out
		}()
	}

	// The claim loser returns while the winner is still blocked inside
	// Publish; only then is the winner released.
	first := <-results
	if first.Status != StatusSkip || first.Reason != domain.SkipAlreadyPosted.String() {
		t.Fatalf("first finisher = %+v; want skip/already_posted", first)
	}
	close(pub.release)
	second := <-results
	if second.Status != StatusPosted {
		t.Fatalf("winner outcome = %+v; want posted", second)
	}

	if pub.calls != 1 {
		t.Fatalf("same dedupe key published %d times concurrently; want at most 1", pub.calls)
	}
}

func TestRun_PublishFailureLeavesKeyUnrecorded(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: publish.ErrPostFailed}
	svc := newService(store, pub)

	if _, err := svc.Run(context.Background(), testCommit()); !errors.Is(err, publish.ErrPostFailed) {
		t.Fatalf("err = %v; want ErrPostFailed", err)
	}
	if len(store.claims) != 0 {
		t.Fatal("failed publish must release the claim, not keep the key")
	}

	// A retry after the transient failure clears can still post.
	pub.err = nil
	out, err := svc.Run(context.Background(), testCommit())
	if err != nil || out.Status != StatusPosted {
		t.Fatalf("retry outcome = (%+v, %v); want posted", out, err)
	}
}

func TestRun_SkipReasonsShortCircuit(t *testing.T) {
	tests := []struct {
		name   string
		commit domain.CommitRecord
		cfg    config.TriggerConfig
		reason string
	}{
		{
			name:   "no trigger in message",
			commit: domain.CommitRecord{SHA: "aaa", Message: "refactor internals", Repo: "myorg/app"},
			cfg:    config.TriggerConfig{Mode: config.GateOr},
			reason: "no_semver",
		},
		{
			name:   "missing marker in and mode",
			commit: domain.CommitRecord{SHA: "aab", Message: "release v1.0.0", Repo: "myorg/app"},
			cfg:    config.TriggerConfig{Mode: config.GateAnd},
			reason: "no_publish_keyword",
		},
		{
			name: "wrong branch",
			commit: domain.CommitRecord{
				SHA: "bbb", Message: "release v1.0.0", Repo: "myorg/app",
				Ref: "refs/heads/feature", DefaultBranch: "main",
			},
			cfg:    config.TriggerConfig{Mode: config.GateOr},
			reason: "wrong_branch",
		},
		{
			name:   "repo not allowed",
			commit: domain.CommitRecord{SHA: "ccc", Message: "release v1.0.0", Repo: "other/repo"},
			cfg:    config.TriggerConfig{Mode: config.GateOr, Allowlist: []string{"myorg/*"}},
			reason: "repo_not_allowed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			pub := &fakePublisher{}
			svc := newService(store, pub)
			svc.Trigger = tc.cfg

			out, err := svc.Run(context.Background(), tc.commit)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.Status != StatusSkip || out.Reason != tc.reason {
				t.Errorf("outcome = %+v; want skip/%s", out, tc.reason)
			}
			if pub.calls != 0 {
				t.Errorf("skip must not publish; calls = %d", pub.calls)
			}
			if len(store.claims) != 0 {
				t.Error("skip must not record a dedupe key")
			}
		})
	}
}

func TestRun_DryRunNeverRecords(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub)
	svc.DryRun = true

	out, err := svc.Run(context.Background(), testCommit())
	if err != nil || out.Status != StatusPosted {
		t.Fatalf("outcome = (%+v, %v); want posted", out, err)
	}
	if len(store.claims) != 0 {
		t.Fatal("dry run must leave the dedupe store untouched")
	}

	// The same commit still posts on the next dry run.
	if _, err := svc.Run(context.Background(), testCommit()); err != nil {
		t.Fatalf("second dry run: %v", err)
	}
	if pub.calls != 2 {
		t.Errorf("publish calls = %d; want 2", pub.calls)
	}
}

func TestRun_DryRunStillReportsAlreadyPosted(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub)

	if _, err := svc.Run(context.Background(), testCommit()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	svc.DryRun = true
	out, err := svc.Run(context.Background(), testCommit())
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if out.Status != StatusSkip || out.Reason != domain.SkipAlreadyPosted.String() {
		t.Fatalf("dry run outcome = %+v; want skip/already_posted", out)
	}
	if pub.calls != 1 {
		t.Errorf("publish calls = %d; want 1", pub.calls)
	}
}

func TestRun_StoreErrorSurfaces(t *testing.T) {
	store := newFakeStore()
	store.seenErr = errors.New("db locked")
	svc := newService(store, &fakePublisher{})

	if _, err := svc.Run(context.Background(), testCommit()); err == nil {
		t.Fatal("expected the store error to surface")
	}
}

func TestRun_EnrichmentFlowsIntoDraft(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub)
	enr := &fakeEnricher{meta: &domain.RepoEnrichment{
		Description: "An example app",
		Topics:      []string{"typescript"},
	}}
	svc.Enricher = enr

	commit := testCommit()
	commit.CommitURL = "https://github.com/myorg/app/commit/" + commit.SHA
	if _, err := svc.Run(context.Background(), commit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if enr.calls != 1 {
		t.Errorf("enricher calls = %d; want 1", enr.calls)
	}
	if pub.last.Embed == nil {
		t.Error("draft is missing the link embed built from enrichment")
	}
	if len(pub.last.Hashtags) == 0 {
		t.Error("draft is missing topic hashtags")
	}
}

func TestKeyFor(t *testing.T) {
	svc := &PublishService{}
	commit := testCommit()
	if got := svc.KeyFor(commit); got != commit.SHA {
		t.Errorf("local key = %q; want bare SHA", got)
	}
	svc.ScopedKeys = true
	want := "gh:myorg/app:" + commit.SHA
	if got := svc.KeyFor(commit); got != want {
		t.Errorf("server key = %q; want %q", got, want)
	}
}
