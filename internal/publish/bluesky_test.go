package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/domain"
)

type blueskyFixture struct {
	sessions    atomic.Int32
	records     atomic.Int32
	failAuth    bool
	record401On int32 // return 401 on this record call (1-based), 0 disables
	lastRecord  map[string]any
}

func (f *blueskyFixture) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		f.sessions.Add(1)
		if f.failAuth {
			http.Error(w, `{"error":"AuthenticationRequired"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt": "jwt-token",
			"did":       "did:plc:abc",
			"handle":    "tester.bsky.social",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		n := f.records.Add(1)
		if r.Header.Get("Authorization") != "Bearer jwt-token" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		if f.record401On != 0 && n == f.record401On {
			http.Error(w, `{"error":"ExpiredToken"}`, http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.lastRecord = body
		json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://did:plc:abc/app.bsky.feed.post/3kabc",
			"cid": "bafy123",
		})
	})
	return mux
}

func newTestBluesky(serviceURL string) *Bluesky {
	return NewBluesky(config.BlueskyConfig{
		Identifier:  "tester.bsky.social",
		AppPassword: "app-pass",
		Service:     serviceURL,
	})
}

func TestBluesky_Publish(t *testing.T) {
	fx := &blueskyFixture{}
	srv := httptest.NewServer(fx.handler())
	defer srv.Close()

	b := newTestBluesky(srv.URL)
	draft := domain.PostDraft{
		Text: "released v1.2.3 https://github.com/myorg/app/commit/abc #gh_abc1234",
		Embed: &domain.Embed{
			Title:       "myorg/app",
			URL:         "https://github.com/myorg/app/commit/abc",
			Description: "example app",
		},
	}

	receipt, err := b.Publish(context.Background(), draft)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if receipt.URI != "at://did:plc:abc/app.bsky.feed.post/3kabc" || receipt.CID != "bafy123" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if got := fx.sessions.Load(); got != 1 {
		t.Errorf("createSession calls = %d; want 1", got)
	}

	record := fx.lastRecord["record"].(map[string]any)
	if record["$type"] != "app.bsky.feed.post" {
		t.Errorf("record type = %v", record["$type"])
	}
	if record["text"] != draft.Text {
		t.Errorf("record text = %v", record["text"])
	}
	if _, ok := record["facets"]; !ok {
		t.Error("record should carry link facets for the commit URL")
	}
	if _, ok := record["embed"]; !ok {
		t.Error("record should carry the external embed")
	}
}

func TestBluesky_SessionReusedAcrossPublishes(t *testing.T) {
	fx := &blueskyFixture{}
	srv := httptest.NewServer(fx.handler())
	defer srv.Close()

	b := newTestBluesky(srv.URL)
	for range 3 {
		if _, err := b.Publish(context.Background(), domain.PostDraft{Text: "hello"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if got := fx.sessions.Load(); got != 1 {
		t.Fatalf("createSession calls = %d; want 1 (session reuse)", got)
	}
}

func TestBluesky_ReauthenticatesOnceOn401(t *testing.T) {
	fx := &blueskyFixture{record401On: 1}
	srv := httptest.NewServer(fx.handler())
	defer srv.Close()

	b := newTestBluesky(srv.URL)
	receipt, err := b.Publish(context.Background(), domain.PostDraft{Text: "hello"})
	if err != nil {
		t.Fatalf("Publish after re-auth: %v", err)
	}
	if receipt.URI == "" {
		t.Fatal("expected a receipt after re-authentication")
	}
	if got := fx.sessions.Load(); got != 2 {
		t.Errorf("createSession calls = %d; want 2", got)
	}
	if got := fx.records.Load(); got != 2 {
		t.Errorf("createRecord calls = %d; want 2", got)
	}
}

func TestBluesky_AuthFailure(t *testing.T) {
	fx := &blueskyFixture{failAuth: true}
	srv := httptest.NewServer(fx.handler())
	defer srv.Close()

	b := newTestBluesky(srv.URL)
	_, err := b.Publish(context.Background(), domain.PostDraft{Text: "hello"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v; want ErrAuthFailed", err)
	}
	if got := fx.records.Load(); got != 0 {
		t.Errorf("createRecord calls = %d; want 0 after auth failure", got)
	}
}

func TestLinkFacets(t *testing.T) {
	text := "see https://github.com/a/b/commit/c and http://example.com."
	facets := linkFacets(text)
	if len(facets) != 2 {
		t.Fatalf("facets = %d; want 2", len(facets))
	}
	first := text[facets[0].Index.ByteStart:facets[0].Index.ByteEnd]
	if first != "https://github.com/a/b/commit/c" {
		t.Errorf("first facet = %q", first)
	}
	second := text[facets[1].Index.ByteStart:facets[1].Index.ByteEnd]
	if second != "http://example.com" {
		t.Errorf("second facet = %q; trailing dot must be excluded", second)
	}
	if facets[0].Features[0].Type != "app.bsky.richtext.facet#link" {
		t.Errorf("feature type = %q", facets[0].Features[0].Type)
	}

	if got := linkFacets("no links here"); got != nil {
		t.Errorf("expected nil facets, got %v", got)
	}
}
