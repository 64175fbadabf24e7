// Package trigger implements the pure gating decision for a commit: repo
// allowlist, branch filter, and the semver/marker trigger gate. It has no
// side effects; the orchestrator translates the returned Decision into exit
// codes or HTTP responses and is responsible for the dedupe check that
// yields SkipAlreadyPosted.
package trigger

import (
	"regexp"
	"strings"

	"github.com/commitcast/commitcast/internal/config"
	"github.com/commitcast/commitcast/internal/domain"
)

// semverRE matches a semantic version token anywhere in a message as a
// word-bounded substring: optional leading v/V, MAJOR.MINOR.PATCH with no
// leading zeros, optional -prerelease and +build segments.
var semverRE = regexp.MustCompile(
	`\b[vV]?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
		`(-[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*)?` +
		`(\+[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*)?\b`)

// markerRE matches the literal @publish token, case-insensitive, delimited
// by word boundaries. Note that a plain word-boundary rule also matches
// email-like strings such as "user@publish.com"; that quirk is pinned by
// tests rather than special-cased away.
var markerRE = regexp.MustCompile(`(?i)@publish\b`)

// HasSemver reports whether the message contains a semantic version token.
func HasSemver(message string) bool { return semverRE.MatchString(message) }

// SemverToken returns the first semantic version token in the message, or "".
func SemverToken(message string) string { return semverRE.FindString(message) }

// HasMarker reports whether the message contains the @publish marker.
func HasMarker(message string) bool { return markerRE.MatchString(message) }

// RepoAllowed reports whether repo ("owner/name") matches at least one
// allowlist pattern. Patterns are "*", "owner/*", "*/repo" or "owner/repo";
// non-wildcard segments compare exactly and case-sensitively. An empty
// allowlist allows everything.
func RepoAllowed(repo string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	owner, name, ok := splitRepo(repo)
	for _, pat := range allowlist {
		pat = strings.TrimSpace(pat)
		if pat == "*" {
			return true
		}
		pOwner, pName, pok := splitRepo(pat)
		if !ok || !pok {
			continue
		}
		if segmentMatch(pOwner, owner) && segmentMatch(pName, name) {
			return true
		}
	}
	return false
}

func splitRepo(s string) (owner, name string, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func segmentMatch(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

// Evaluate applies the gating rules in fixed order and returns the first
// failing rule's skip decision, or Proceed. Rules:
//
//  1. repo allowlist (server mode; empty allowlist allows all)
//  2. branch filter (only when the commit carries a push ref)
//  3. trigger gate per the configured mode
//
// The force flag bypasses rules 2-3 but never rule 1, and never the dedupe
// check performed by the caller.
func Evaluate(commit domain.CommitRecord, cfg config.TriggerConfig) domain.Decision {
	if !RepoAllowed(commit.Repo, cfg.Allowlist) {
		return domain.SkipRepoNotAllowed
	}

	if cfg.Force {
		return domain.Proceed
	}

	if commit.Ref != "" {
		effective := cfg.BranchOnly
		if effective == "" {
			effective = commit.DefaultBranch
		}
		if effective != "" && commit.Ref != "refs/heads/"+effective {
			return domain.SkipBranch
		}
	}

	return gateDecision(commit.Message, cfg.Mode)
}

// gateDecision names the first missing trigger signal so skip reasons stay
// precise on the wire. In "or" mode a message matching neither signal is
// labeled no_semver: the version token is the primary trigger and the label
// must be deterministic.
func gateDecision(message, mode string) domain.Decision {
	version := HasSemver(message)
	marker := HasMarker(message)
	switch mode {
	case config.GateAnd:
		if !version {
			return domain.SkipNoSemver
		}
		if !marker {
			return domain.SkipNoKeyword
		}
	case config.GateVersion:
		if !version {
			return domain.SkipNoSemver
		}
	default: // config.GateOr
		if !version && !marker {
			return domain.SkipNoSemver
		}
	}
	return domain.Proceed
}
