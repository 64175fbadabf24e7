// Package gitrepo reads the local repository in CLI mode: the HEAD commit,
// the current branch, and the origin remote resolved to an "owner/repo"
// GitHub identifier. It also installs the git hook that invokes the binary.
package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/commitcast/commitcast/internal/domain"
)

// DedupeFileName is the append-only posted-commit file kept under .git.
const DedupeFileName = "commitcast-posted"

// GitError wraps a failed repository operation with its diagnostic output.
type GitError struct {
	Op     string
	Detail string
}

func (e *GitError) Error() string {
	return "git " + e.Op + ": " + e.Detail
}

// Repo is an opened local repository.
type Repo struct {
	repo *git.Repository
	path string
}

// Open walks up from path to find the enclosing git repository.
func Open(path string) (*Repo, error) {
	dir := path
	for {
		if r, err := git.PlainOpen(dir); err == nil {
			return &Repo{repo: r, path: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, &GitError{Op: "open", Detail: "not a git repository (or any parent): " + path}
		}
		dir = parent
	}
}

// Path returns the repository root directory.
func (r *Repo) Path() string { return r.path }

// DedupeFilePath returns the local dedupe file location under .git.
func (r *Repo) DedupeFilePath() string {
	return filepath.Join(r.path, ".git", DedupeFileName)
}

// HeadCommit reads the HEAD commit and resolves remote metadata into a
// CommitRecord.
func (r *Repo) HeadCommit() (domain.CommitRecord, error) {
	head, err := r.repo.Head()
	if err != nil {
		return domain.CommitRecord{}, &GitError{Op: "head", Detail: err.Error()}
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return domain.CommitRecord{}, &GitError{Op: "show", Detail: err.Error()}
	}

	record := domain.CommitRecord{
		SHA:     commit.Hash.String(),
		Message: commit.Message,
		Author:  commit.Author.Name,
	}
	if head.Name().IsBranch() {
		record.Branch = head.Name().Short()
	}

	if repoID, ok := r.originGitHubRepo(); ok {
		record.Repo = repoID
		record.CommitURL = "https://github.com/" + repoID + "/commit/" + record.SHA
	}
	return record, nil
}

// githubRemoteRE matches https and ssh GitHub remote URLs.
var githubRemoteRE = regexp.MustCompile(`^(?:https://github\.com/|git@github\.com:|ssh://git@github\.com/)([^/]+)/(.+?)(?:\.git)?/?$`)

// originGitHubRepo resolves the origin remote to "owner/repo" when it points
// at GitHub.
func (r *Repo) originGitHubRepo() (string, bool) {
	remote, err := r.repo.Remote("origin")
	if err != nil {
		return "", false
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", false
	}
	return ParseGitHubRemote(urls[0])
}

// ParseGitHubRemote extracts "owner/repo" from a GitHub remote URL, https or
// ssh form, with or without the .git suffix. Non-GitHub remotes return false.
func ParseGitHubRemote(url string) (string, bool) {
	m := githubRemoteRE.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

// hookScript invokes the installed binary; a failed post never blocks the
// git operation itself.
const hookScript = `#!/bin/sh
# Installed by commitcast. Posts the latest commit when it matches the
# configured trigger.
commitcast || true
`

// InstallHook writes the hook script into .git/hooks/<name>. An existing
// hook is preserved unless force is set.
func (r *Repo) InstallHook(name string, force bool) (string, error) {
	if name == "" {
		name = "pre-push"
	}
	hooksDir := filepath.Join(r.path, ".git", "hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return "", fmt.Errorf("create hooks dir: %w", err)
	}

	hookPath := filepath.Join(hooksDir, name)
	if _, err := os.Stat(hookPath); err == nil && !force {
		return "", fmt.Errorf("hook %s already exists; use --force to overwrite", hookPath)
	}

	if err := os.WriteFile(hookPath, []byte(hookScript), 0o755); err != nil {
		return "", fmt.Errorf("write hook: %w", err)
	}
	return hookPath, nil
}
