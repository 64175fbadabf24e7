package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"ref":"refs/heads/main"}`)

	if !VerifySignature(secret, body, sign(secret, body)) {
		t.Fatal("correctly signed body must verify")
	}

	// Any single-byte mutation of the body fails.
	mutated := append([]byte(nil), body...)
	mutated[3] ^= 0x01
	if VerifySignature(secret, mutated, sign(secret, body)) {
		t.Fatal("mutated body must not verify")
	}

	// Any single-byte mutation of the signature fails.
	sig := []byte(sign(secret, body))
	if sig[10] == 'a' {
		sig[10] = 'b'
	} else {
		sig[10] = 'a'
	}
	if VerifySignature(secret, body, string(sig)) {
		t.Fatal("mutated signature must not verify")
	}

	if VerifySignature("wrong", body, sign(secret, body)) {
		t.Fatal("wrong secret must not verify")
	}
}

func TestVerifySignature_MalformedHeaders(t *testing.T) {
	body := []byte("payload")
	cases := []string{
		"",
		"sha256=",
		"sha256=nothex!",
		"sha1=deadbeef",
		"deadbeef",
	}
	for _, header := range cases {
		if VerifySignature("secret", body, header) {
			t.Errorf("header %q must not verify", header)
		}
	}
	if VerifySignature("", body, sign("", body)) {
		t.Error("empty secret must never verify")
	}
}

func TestPushPayload_Commit(t *testing.T) {
	raw := []byte(`{
		"ref": "refs/heads/main",
		"repository": {
			"full_name": "myorg/app",
			"html_url": "https://github.com/myorg/app",
			"default_branch": "main"
		},
		"head_commit": {
			"id": "0123456789abcdef0123456789abcdef01234567",
			"message": "fix: release v1.2.3",
			"author": {"name": "Ada"}
		}
	}`)
	var p PushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	commit, ok := p.Commit()
	if !ok {
		t.Fatal("payload with head_commit must yield a commit")
	}
	if commit.Branch != "main" || commit.Ref != "refs/heads/main" {
		t.Errorf("branch/ref = %q/%q", commit.Branch, commit.Ref)
	}
	if commit.Repo != "myorg/app" {
		t.Errorf("repo = %q", commit.Repo)
	}
	// URL derived from html_url when head_commit.url is absent.
	want := "https://github.com/myorg/app/commit/0123456789abcdef0123456789abcdef01234567"
	if commit.CommitURL != want {
		t.Errorf("commit URL = %q; want %q", commit.CommitURL, want)
	}
	if commit.DefaultBranch != "main" {
		t.Errorf("default branch = %q", commit.DefaultBranch)
	}
}

func TestPushPayload_NoHeadCommit(t *testing.T) {
	var p PushPayload
	p.Ref = "refs/heads/main"
	if _, ok := p.Commit(); ok {
		t.Fatal("payload without head_commit must not yield a commit")
	}
}
