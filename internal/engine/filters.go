package engine

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
)

// recentBuildWindow bounds the history lookback for skip_branch_with_pr.
const recentBuildWindow = 50

// skipReason decides whether the build should be skipped before any job
// runs. An empty reason means run.
func (e *Engine) skipReason(cfg *schema.Config, opts RunOptions) string {
	if opts.Branch != "" && !branchAllowed(cfg.Branches, opts.Branch) {
		return fmt.Sprintf("branch %q is excluded by the branches filter", opts.Branch)
	}
	if cfg.SkipTags && opts.Tag != "" {
		return fmt.Sprintf("tag builds are skipped (tag %q)", opts.Tag)
	}
	if reason := skipByCommit(cfg.SkipCommits, opts); reason != "" {
		return reason
	}
	if cfg.SkipBranchWithPR && opts.PullRequest == "" && opts.Branch != "" &&
		e.branchHasPullRequest(opts.Branch) {
		return fmt.Sprintf("branch %q already builds through its pull request", opts.Branch)
	}
	return ""
}

// branchAllowed applies branches.only and branches.except. Entries match
// the branch name exactly or as an anchored regular expression.
func branchAllowed(filter schema.BranchFilter, branch string) bool {
	if len(filter.Only) > 0 && !matchesBranch(filter.Only, branch) {
		return false
	}
	return !matchesBranch(filter.Except, branch)
}

func matchesBranch(patterns []string, branch string) bool {
	for _, p := range patterns {
		if p == branch {
			return true
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err == nil && re.MatchString(branch) {
			return true
		}
	}
	return false
}

// skipByCommit applies the commit-message and changed-files filters. The
// [skip ci] and [ci skip] markers are honored regardless of
// configuration.
func skipByCommit(skip schema.SkipCommits, opts RunOptions) string {
	msg := strings.ToLower(opts.CommitMessage)
	if strings.Contains(msg, "[skip ci]") || strings.Contains(msg, "[ci skip]") {
		return "commit message requests skip"
	}
	if skip.Message != "" && opts.CommitMessage != "" {
		re, err := regexp.Compile("(?i)" + skip.Message)
		if err == nil && re.MatchString(opts.CommitMessage) {
			return "commit message matches skip_commits.message"
		}
	}
	if len(skip.Files) > 0 && len(opts.ChangedFiles) > 0 &&
		allFilesMatch(skip.Files, opts.ChangedFiles) {
		return "all changed files match skip_commits.files"
	}
	return ""
}

// allFilesMatch reports whether every changed file matches at least one
// skip pattern.
func allFilesMatch(patterns, files []string) bool {
	for _, f := range files {
		f = path.Clean(filepath.ToSlash(f))
		matched := false
		for _, p := range patterns {
			if matchPath(p, f) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// matchPath matches one skip pattern against one slash path. Patterns
// use path.Match syntax; a pattern naming a directory covers everything
// under it.
func matchPath(pattern, file string) bool {
	pattern = path.Clean(strings.ReplaceAll(pattern, `\`, "/"))
	if ok, err := path.Match(pattern, file); err == nil && ok {
		return true
	}
	return strings.HasPrefix(file, strings.TrimSuffix(pattern, "/")+"/")
}

// branchHasPullRequest reports whether recent history holds a pull
// request build for the branch. That is the skip_branch_with_pr signal:
// the push build is redundant when the PR build covers the same branch.
func (e *Engine) branchHasPullRequest(branch string) bool {
	builds, err := e.store.ListBuilds(e.account, e.project, recentBuildWindow)
	if err != nil {
		return false
	}
	for _, b := range builds {
		if b.IsPullRequest() && b.Branch == branch {
			return true
		}
	}
	return false
}
