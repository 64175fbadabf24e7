// Bluesky AT-Protocol adapter: createSession for auth, createRecord for the
// post itself. The authenticated session is held in an injectable holder so
// server mode can reuse it across requests; any 401 invalidates it and one
// re-authentication is attempted before giving up.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/domain"
)

// session is the authenticated AT-Protocol session state.
type session struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
	Handle    string `json:"handle"`
}

// SessionHolder owns the lazily-created session. It is safe for concurrent
// use; Invalidate discards the session so the next call re-authenticates.
type SessionHolder struct {
	mu sync.Mutex
	s  *session
}

func (h *SessionHolder) get() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}

func (h *SessionHolder) set(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = s
}

// Invalidate discards the held session.
func (h *SessionHolder) Invalidate() {
	h.set(nil)
}

// Bluesky publishes posts through an AT-Protocol PDS.
type Bluesky struct {
	httpClient *http.Client
	cfg        config.BlueskyConfig
	holder     *SessionHolder
}

// NewBluesky returns a Bluesky publisher with a default-timeout HTTP client
// and a fresh session holder.
func NewBluesky(cfg config.BlueskyConfig) *Bluesky {
	return &Bluesky{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		holder:     &SessionHolder{},
	}
}

// Name implements Publisher.
func (b *Bluesky) Name() string { return config.BackendBluesky }

// Publish implements Publisher. A stale session (401 on createRecord) is
// discarded and re-created exactly once.
func (b *Bluesky) Publish(ctx context.Context, draft domain.PostDraft) (Receipt, error) {
	sess := b.holder.get()
	if sess == nil {
		var err error
		sess, err = b.createSession(ctx)
		if err != nil {
			return Receipt{}, err
		}
		b.holder.set(sess)
	}

	receipt, status, err := b.createRecord(ctx, sess, draft)
	if status == http.StatusUnauthorized {
		b.holder.Invalidate()
		sess, err = b.createSession(ctx)
		if err != nil {
			return Receipt{}, err
		}
		b.holder.set(sess)
		receipt, _, err = b.createRecord(ctx, sess, draft)
	}
	return receipt, err
}

func (b *Bluesky) createSession(ctx context.Context) (*session, error) {
	body, _ := json.Marshal(map[string]string{
		"identifier": b.cfg.Identifier,
		"password":   b.cfg.AppPassword,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.Service, "/")+"/xrpc/com.atproto.server.createSession",
		bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: createSession returned %d: %s", ErrAuthFailed, resp.StatusCode, msg)
	}

	var s session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", ErrAuthFailed, err)
	}
	if s.AccessJwt == "" || s.Did == "" {
		return nil, fmt.Errorf("%w: incomplete session response", ErrAuthFailed)
	}
	return &s, nil
}

// feedPost is the app.bsky.feed.post record shape.
type feedPost struct {
	Type      string  `json:"$type"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"createdAt"`
	Facets    []facet `json:"facets,omitempty"`
	Embed     *embed  `json:"embed,omitempty"`
}

type facet struct {
	Index    byteSlice      `json:"index"`
	Features []facetFeature `json:"features"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

type embed struct {
	Type     string        `json:"$type"`
	External embedExternal `json:"external"`
}

type embedExternal struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (b *Bluesky) createRecord(ctx context.Context, sess *session, draft domain.PostDraft) (Receipt, int, error) {
	record := feedPost{
		Type:      "app.bsky.feed.post",
		Text:      draft.Text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Facets:    linkFacets(draft.Text),
	}
	if draft.Embed != nil {
		record.Embed = &embed{
			Type: "app.bsky.embed.external",
			External: embedExternal{
				URI:         draft.Embed.URL,
				Title:       draft.Embed.Title,
				Description: draft.Embed.Description,
			},
		}
	}

	body, _ := json.Marshal(map[string]any{
		"repo":       sess.Did,
		"collection": "app.bsky.feed.post",
		"record":     record,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.Service, "/")+"/xrpc/com.atproto.repo.createRecord",
		bytes.NewReader(body))
	if err != nil {
		return Receipt{}, 0, fmt.Errorf("%w: %v", ErrPostFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sess.AccessJwt)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Receipt{}, 0, fmt.Errorf("%w: %v", ErrPostFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, resp.StatusCode,
			fmt.Errorf("%w: createRecord returned %d: %s", ErrPostFailed, resp.StatusCode, msg)
	}

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, resp.StatusCode, fmt.Errorf("%w: decode receipt: %v", ErrPostFailed, err)
	}
	return Receipt{URI: out.URI, CID: out.CID}, resp.StatusCode, nil
}

// linkFacets finds http(s) URLs in text and returns rich-text link facets
// with byte offsets, as the AT protocol expects.
func linkFacets(text string) []facet {
	var facets []facet
	for i := 0; i < len(text); {
		start := indexURL(text[i:])
		if start < 0 {
			break
		}
		start += i
		end := start
		for end < len(text) && !isSpace(text[end]) {
			end++
		}
		// Trailing punctuation is not part of the link.
		for end > start && strings.ContainsRune(".,;:!?)", rune(text[end-1])) {
			end--
		}
		facets = append(facets, facet{
			Index: byteSlice{ByteStart: start, ByteEnd: end},
			Features: []facetFeature{{
				Type: "app.bsky.richtext.facet#link",
				URI:  text[start:end],
			}},
		})
		i = end
	}
	return facets
}

func indexURL(s string) int {
	https := strings.Index(s, "https://")
	http_ := strings.Index(s, "http://")
	switch {
	case https < 0:
		return http_
	case http_ < 0:
		return https
	case http_ < https:
		return http_
	default:
		return https
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
