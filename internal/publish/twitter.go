// Twitter adapter: OAuth 1.0a request signing (HMAC-SHA1) and a
// form-encoded status update. Failure is terminal and surfaced; there is no
// silent retry.
package publish

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/domain"
)

const twitterUpdateURL = "https://api.twitter.com/1.1/statuses/update.json"

// Twitter publishes posts through the statuses/update endpoint.
type Twitter struct {
	httpClient *http.Client
	cfg        config.TwitterConfig
	endpoint   string

	// nonce and now are injectable for deterministic signing in tests.
	nonce func() string
	now   func() time.Time
}

// NewTwitter returns a Twitter publisher with a default-timeout HTTP client.
func NewTwitter(cfg config.TwitterConfig) *Twitter {
	return &Twitter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		endpoint:   twitterUpdateURL,
		nonce:      newNonce,
		now:        time.Now,
	}
}

// Name implements Publisher.
func (t *Twitter) Name() string { return config.BackendTwitter }

// Publish implements Publisher.
func (t *Twitter) Publish(ctx context.Context, draft domain.PostDraft) (Receipt, error) {
	body := url.Values{"status": {draft.Text}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint,
		strings.NewReader(body.Encode()))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrPostFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", t.authorizationHeader(http.MethodPost, t.endpoint, body))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrPostFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, fmt.Errorf("%w: twitter returned %d: %s", ErrAuthFailed, resp.StatusCode, msg)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, fmt.Errorf("%w: twitter returned %d: %s", ErrPostFailed, resp.StatusCode, msg)
	}

	var out struct {
		IDStr string `json:"id_str"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("%w: decode response: %v", ErrPostFailed, err)
	}
	return Receipt{URI: out.IDStr}, nil
}

// authorizationHeader builds the OAuth 1.0a header for one request, with a
// fresh nonce and timestamp.
func (t *Twitter) authorizationHeader(method, endpoint string, body url.Values) string {
	oauth := map[string]string{
		"oauth_consumer_key":     t.cfg.ConsumerKey,
		"oauth_nonce":            t.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(t.now().Unix(), 10),
		"oauth_token":            t.cfg.AccessToken,
		"oauth_version":          "1.0",
	}

	base := signatureBaseString(method, endpoint, body, oauth)
	signingKey := percentEncode(t.cfg.ConsumerSecret) + "&" + percentEncode(t.cfg.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", percentEncode(k), percentEncode(oauth[k])))
	}
	return "OAuth " + strings.Join(pairs, ", ")
}

// signatureBaseString builds the canonical OAuth 1.0a base string: all body
// and oauth parameters percent-encoded, sorted by encoded key then value,
// joined, then prefixed with the method and the encoded endpoint URL.
func signatureBaseString(method, endpoint string, body url.Values, oauth map[string]string) string {
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range body {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauth {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	paramString := strings.Join(parts, "&")

	return strings.ToUpper(method) + "&" + percentEncode(endpoint) + "&" + percentEncode(paramString)
}

// percentEncode implements RFC 3986 encoding as OAuth 1.0a requires:
// only ALPHA, DIGIT, '-', '.', '_', '~' stay unescaped.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}

func newNonce() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
