// Package webhook defines the GitHub push payload shape consumed by the
// server and the signature verification applied to every delivery before
// the body is parsed.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/commitcast/commitcast/internal/domain"
)

// SignatureHeader is the GitHub HMAC header checked on every delivery.
const SignatureHeader = "X-Hub-Signature-256"

// EventHeader carries the GitHub event type; only "push" is processed.
const EventHeader = "X-GitHub-Event"

// PushPayload mirrors the subset of a GitHub push event the service needs.
type PushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName      string `json:"full_name"`
		HTMLURL       string `json:"html_url"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	HeadCommit *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"head_commit"`
}

// Commit converts the payload into a CommitRecord. It returns false when the
// payload carries no head commit (e.g. branch deletions).
func (p PushPayload) Commit() (domain.CommitRecord, bool) {
	if p.HeadCommit == nil || p.HeadCommit.ID == "" {
		return domain.CommitRecord{}, false
	}
	url := p.HeadCommit.URL
	if url == "" && p.Repository.HTMLURL != "" {
		url = p.Repository.HTMLURL + "/commit/" + p.HeadCommit.ID
	}
	return domain.CommitRecord{
		SHA:           p.HeadCommit.ID,
		Message:       p.HeadCommit.Message,
		Author:        p.HeadCommit.Author.Name,
		Ref:           p.Ref,
		Branch:        strings.TrimPrefix(p.Ref, "refs/heads/"),
		Repo:          p.Repository.FullName,
		CommitURL:     url,
		DefaultBranch: p.Repository.DefaultBranch,
	}, true
}

// VerifySignature checks a GitHub webhook signature: HMAC-SHA256 over the
// raw body with the shared secret, hex-encoded, delivered as
// "sha256=<hex>". The comparison is constant time; a missing or malformed
// header fails verification without panicking.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
