package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/supersede"
	"github.com/rdmontgomery/exa/pkg/core"
)

func TestBranchAllowed(t *testing.T) {
	tests := []struct {
		name   string
		filter schema.BranchFilter
		branch string
		want   bool
	}{
		{
			name:   "no filter allows everything",
			branch: "anything-goes",
			want:   true,
		},
		{
			name:   "only lists the branch",
			filter: schema.BranchFilter{Only: []string{"master", "develop"}},
			branch: "develop",
			want:   true,
		},
		{
			name:   "only excludes other branches",
			filter: schema.BranchFilter{Only: []string{"master"}},
			branch: "topic/lint",
			want:   false,
		},
		{
			name:   "only entries match as anchored regexp",
			filter: schema.BranchFilter{Only: []string{`release/.*`}},
			branch: "release/2.1",
			want:   true,
		},
		{
			name:   "regexp does not match partially",
			filter: schema.BranchFilter{Only: []string{`release`}},
			branch: "release/2.1",
			want:   false,
		},
		{
			name:   "except removes the branch",
			filter: schema.BranchFilter{Except: []string{"gh-pages"}},
			branch: "gh-pages",
			want:   false,
		},
		{
			name:   "except wins over only",
			filter: schema.BranchFilter{Only: []string{`.*`}, Except: []string{"wip"}},
			branch: "wip",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, branchAllowed(tt.filter, tt.branch))
		})
	}
}

func TestSkipByCommit(t *testing.T) {
	tests := []struct {
		name string
		skip schema.SkipCommits
		opts RunOptions
		want bool
	}{
		{
			name: "skip ci marker",
			opts: RunOptions{CommitMessage: "tweak docs [skip ci]"},
			want: true,
		},
		{
			name: "ci skip marker is case-insensitive",
			opts: RunOptions{CommitMessage: "typo [CI Skip]"},
			want: true,
		},
		{
			name: "plain message runs",
			opts: RunOptions{CommitMessage: "fix the matrix expansion"},
			want: false,
		},
		{
			name: "configured message pattern",
			skip: schema.SkipCommits{Message: `\[docs only\]`},
			opts: RunOptions{CommitMessage: "update readme [docs only]"},
			want: true,
		},
		{
			name: "all changed files match",
			skip: schema.SkipCommits{Files: []string{"docs", "*.md"}},
			opts: RunOptions{ChangedFiles: []string{"docs/guide/install.md", "README.md"}},
			want: true,
		},
		{
			name: "one unmatched file runs the build",
			skip: schema.SkipCommits{Files: []string{"docs"}},
			opts: RunOptions{ChangedFiles: []string{"docs/guide.md", "runner/job.go"}},
			want: false,
		},
		{
			name: "unknown changed files run the build",
			skip: schema.SkipCommits{Files: []string{"docs"}},
			opts: RunOptions{CommitMessage: "touch docs"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := skipByCommit(tt.skip, tt.opts)
			assert.Equal(t, tt.want, reason != "", "reason: %q", reason)
		})
	}
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		file    string
		want    bool
	}{
		{"README.md", "README.md", true},
		{"*.md", "CHANGES.md", true},
		{"*.md", "docs/CHANGES.md", false},
		{"docs", "docs/guide/install.md", true},
		{"docs/", "docs/guide.md", true},
		{"docs/*", "docs/guide.md", true},
		{"docs/*", "docs/guide/deep.md", false},
		{`docs\guide.md`, "docs/guide.md", true},
		{"src", "srculent/file.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPath(tt.pattern, tt.file))
		})
	}
}

func TestFilterCells(t *testing.T) {
	cells := []matrix.Job{
		{Name: "PYTHON=2.7; platform=x86"},
		{Name: "PYTHON=2.7; platform=x64"},
		{Name: "PYTHON=3.9; platform=x64"},
	}

	kept := filterCells(cells, "python=2.7")
	require.Len(t, kept, 2)

	kept = filterCells(cells, "x64")
	require.Len(t, kept, 2)
	assert.Equal(t, "PYTHON=2.7; platform=x64", kept[0].Name)

	assert.Empty(t, filterCells(cells, "PYTHON=3.6"))
}

func TestPlainVars(t *testing.T) {
	got := plainVars(map[string]schema.EnvValue{
		"PYTHON_VERSION": {Value: "2.7"},
		"API_TOKEN":      {Secure: "aGlkZGVu"},
	})
	assert.Equal(t, map[string]string{
		"PYTHON_VERSION": "2.7",
		"API_TOKEN":      "[secure]",
	}, got)

	assert.Nil(t, plainVars(nil))
}

func TestJobOutcome(t *testing.T) {
	background := context.Background()

	t.Run("nil error is success", func(t *testing.T) {
		status, err := jobOutcome(background, nil)
		assert.Equal(t, core.JobStatusSuccess, status)
		assert.NoError(t, err)
	})

	t.Run("step failure fails the job", func(t *testing.T) {
		status, err := jobOutcome(background, errors.New("install: exit 3"))
		assert.Equal(t, core.JobStatusFailed, status)
		assert.Error(t, err)
	})

	t.Run("superseded cancels the job", func(t *testing.T) {
		cause := fmt.Errorf("%w: build 9 supersedes build 3", supersede.ErrSuperseded)
		status, err := jobOutcome(background, cause)
		assert.Equal(t, core.JobStatusCancelled, status)
		assert.ErrorIs(t, err, supersede.ErrSuperseded)
	})

	t.Run("cancellation cause becomes the message", func(t *testing.T) {
		ctx, cancel := context.WithCancelCause(background)
		cancel(errors.New(`fast_finish: job "PYTHON=2.7" failed`))
		stepErr := fmt.Errorf("install: step cancelled: %w", ctx.Err())

		status, err := jobOutcome(ctx, stepErr)
		assert.Equal(t, core.JobStatusCancelled, status)
		assert.ErrorContains(t, err, "fast_finish")
	})

	t.Run("timeout cause fails the job", func(t *testing.T) {
		ctx, cancel := context.WithTimeoutCause(background, time.Nanosecond,
			&timeoutError{scope: "job", limit: time.Second})
		defer cancel()
		<-ctx.Done()
		stepErr := fmt.Errorf("test_script: step cancelled: %w", ctx.Err())

		status, err := jobOutcome(ctx, stepErr)
		assert.Equal(t, core.JobStatusFailed, status)
		assert.ErrorContains(t, err, "job timed out after 1s")
	})
}

func TestShortCommand(t *testing.T) {
	assert.Equal(t, "echo hello", shortCommand("echo hello"))
	assert.Equal(t, "first line", shortCommand("first line\nsecond line"))

	long := shortCommand("managed-conda install --yes --quiet --prefix /opt/conda python=2.7 pip wheel")
	assert.Len(t, long, 60)
	assert.Contains(t, long, "...")
}
