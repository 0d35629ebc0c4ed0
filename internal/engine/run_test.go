package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmontgomery/exa/internal/artifact"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/internal/secret"
	"github.com/rdmontgomery/exa/internal/shell"
	"github.com/rdmontgomery/exa/internal/state"
	"github.com/rdmontgomery/exa/internal/supersede"
	"github.com/rdmontgomery/exa/internal/testutil"
	"github.com/rdmontgomery/exa/pkg/core"
)

// requirePosixShell skips tests whose pipelines are written for sh.
func requirePosixShell(t *testing.T) {
	t.Helper()
	if shell.Default() != "sh" {
		t.Skip("pipeline fixtures use the sh adapter")
	}
	sh, err := shell.New("sh", nil)
	require.NoError(t, err)
	if !sh.Available() {
		t.Skip("sh not available on this host")
	}
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Account:  "acme",
		Project:  "hook",
		StateDSN: ":memory:",
		WorkDir:  t.TempDir(),
		Workers:  1,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
		Logger:   testutil.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func parsePipeline(t *testing.T, src string) *schema.Config {
	t.Helper()
	cfg, err := schema.Parse([]byte(src))
	require.NoError(t, err)
	return cfg
}

// mainTrigger is a plain push build on master.
func mainTrigger() RunOptions {
	return RunOptions{Branch: "master", Commit: "3f2a9c1", CommitMessage: "wire the build"}
}

// workspacePath is where the engine lays out the first job's workspace.
func workspacePath(eng *Engine, buildNumber int64) string {
	return filepath.Join(eng.workDir, "builds", fmt.Sprintf("build-%d", buildNumber), "job-01")
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestRunRecordsSuccessfulBuild(t *testing.T) {
	requirePosixShell(t)

	var rec eventRecorder
	eng := newTestEngine(t, func(cfg *Config) {
		cfg.Events = rec.record
	})
	cfg := parsePipeline(t, `
version: 2.1.{build}
environment:
  PYTHON_VERSION: "3.9"
install:
  - echo "installing python $PYTHON_VERSION"
build_script:
  - printf '%s\n' "$EXA_BUILD_VERSION" > version.txt
test_script:
  - test "$(cat version.txt)" = "2.1.1"
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)
	assert.Equal(t, int64(1), build.Number)
	assert.Equal(t, "2.1.1", build.Version)
	assert.Equal(t, "master", build.Branch)
	require.NotNil(t, build.CompletedAt)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "default", jobs[0].Name)
	assert.Equal(t, core.JobStatusSuccess, jobs[0].Status)
	assert.Equal(t, "3.9", jobs[0].Variables["PYTHON_VERSION"])

	steps, err := eng.Store().GetStepResultsForJob(jobs[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, core.PhaseInstall, steps[0].Phase)
	assert.Equal(t, core.PhaseBuild, steps[1].Phase)
	assert.Equal(t, core.PhaseTest, steps[2].Phase)
	for _, s := range steps {
		assert.Equal(t, core.JobStatusSuccess, s.Status)
		assert.Equal(t, 0, s.ExitCode)
		assert.Equal(t, "sh", s.Shell)
	}

	written, err := os.ReadFile(filepath.Join(workspacePath(eng, 1), "version.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2.1.1\n", string(written))

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventBuildStarted, kinds[0])
	assert.Equal(t, EventBuildFinished, kinds[len(kinds)-1])
	assert.Contains(t, kinds, EventJobStarted)
	assert.Contains(t, kinds, EventJobFinished)

	var started int
	for _, k := range kinds {
		if k == EventStepStarted {
			started++
		}
	}
	assert.Equal(t, 3, started)
}

func TestStepFailureSkipsLaterPhases(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
install:
  - echo ready
build_script:
  - exit 3
after_build:
  - touch after_build.ran
test_script:
  - touch test.ran
on_success:
  - touch success.ran
on_failure:
  - touch failure.ran
on_finish:
  - touch finish.ran
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.Error(t, err)
	assert.Equal(t, core.BuildStatusFailed, build.Status)
	assert.Contains(t, build.Error, `job "default" failed`)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, core.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "exited with code 3")

	ws := workspacePath(eng, 1)
	assert.NoFileExists(t, filepath.Join(ws, "after_build.ran"))
	assert.NoFileExists(t, filepath.Join(ws, "test.ran"))
	assert.NoFileExists(t, filepath.Join(ws, "success.ran"))
	assert.FileExists(t, filepath.Join(ws, "failure.ran"))
	assert.FileExists(t, filepath.Join(ws, "finish.ran"))

	steps, err := eng.Store().GetStepResultsForJob(jobs[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, core.JobStatusFailed, steps[1].Status)
	assert.Equal(t, 3, steps[1].ExitCode)
	assert.Equal(t, core.PhaseOnFailure, steps[2].Phase)
	assert.Equal(t, core.PhaseOnFinish, steps[3].Phase)
}

func TestMatrixFanoutRunsEveryCell(t *testing.T) {
	requirePosixShell(t)

	results := filepath.Join(t.TempDir(), "results.txt")
	t.Setenv("MATRIX_RESULTS", results)

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
platform:
  - x86
  - x64
environment:
  matrix:
    - PYTHON: "27"
    - PYTHON: "39"
test_script:
  - printf '%s-%s\n' "$PYTHON" "$PLATFORM" >> "$MATRIX_RESULTS"
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, "PYTHON=27; platform=x86", jobs[0].Name)
	assert.Equal(t, "PYTHON=39; platform=x64", jobs[3].Name)
	for _, j := range jobs {
		assert.Equal(t, core.JobStatusSuccess, j.Status)
	}

	out, err := os.ReadFile(results)
	require.NoError(t, err)
	assert.Equal(t, "27-x86\n27-x64\n39-x86\n39-x64\n", string(out))
}

func TestAllowFailuresKeepTheBuildGreen(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
environment:
  matrix:
    - MODE: good
    - MODE: flaky
matrix:
  allow_failures:
    - MODE: flaky
test_script:
  - test "$MODE" = good
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err, "an allowed failure must not fail the build")
	assert.Equal(t, core.BuildStatusSuccess, build.Status)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, core.JobStatusSuccess, jobs[0].Status)
	assert.Equal(t, core.JobStatusFailed, jobs[1].Status)
	assert.True(t, jobs[1].AllowFailure)
}

func TestFastFinishCancelsRemainingJobs(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
environment:
  matrix:
    - STAGE: first
    - STAGE: second
matrix:
  fast_finish: true
test_script:
  - test "$STAGE" = second
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.Error(t, err)
	assert.Equal(t, core.BuildStatusFailed, build.Status)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, core.JobStatusFailed, jobs[0].Status)
	assert.Equal(t, core.JobStatusCancelled, jobs[1].Status)
	assert.Contains(t, jobs[1].Error, "fast_finish")
}

func TestBranchFilterSkipsBuild(t *testing.T) {
	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
branches:
  only:
    - master
test_script:
  - touch ran
`)

	opts := mainTrigger()
	opts.Branch = "topic/lint"
	build, err := eng.Run(context.Background(), cfg, opts)
	require.NoError(t, err, "a skipped build is not an error")
	assert.Equal(t, core.BuildStatusSkipped, build.Status)
	assert.Contains(t, build.Error, "excluded by the branches filter")

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSkipCiCommitMessage(t *testing.T) {
	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
test_script:
  - touch ran
`)

	opts := mainTrigger()
	opts.CommitMessage = "bump readme badges [skip ci]"
	build, err := eng.Run(context.Background(), cfg, opts)
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSkipped, build.Status)
	assert.NoDirExists(t, workspacePath(eng, 1))
}

func TestRollingBuildSupersededAbortsBeforeInstall(t *testing.T) {
	requirePosixShell(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/projects/acme/hook/history", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"builds": []*core.Build{
				{Number: 9, Branch: "feature", PullRequest: "41", Status: core.BuildStatusQueued},
			},
		})
	}))
	defer api.Close()

	eng := newTestEngine(t, func(cfg *Config) {
		cfg.HistoryURL = api.URL
	})
	cfg := parsePipeline(t, `
rolling_builds: true
init:
  - echo starting
install:
  - touch install.ran
test_script:
  - echo tested
`)

	opts := RunOptions{Branch: "feature", Commit: "9c41d2e", PullRequest: "41"}
	build, err := eng.Run(context.Background(), cfg, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, supersede.ErrSuperseded)
	assert.Equal(t, core.BuildStatusCancelled, build.Status)
	assert.Contains(t, build.Error, "supersedes build 1")

	assert.NoFileExists(t, filepath.Join(workspacePath(eng, 1), "install.ran"))

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, core.JobStatusCancelled, jobs[0].Status)

	steps, err := eng.Store().GetStepResultsForJob(jobs[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 1, "only init may run before the check")
	assert.Equal(t, core.PhaseInit, steps[0].Phase)
}

// racingStore makes the first CreateBuild collide, as if another runner
// took the allocated number between the read and the insert.
type racingStore struct {
	state.Store
	raced bool
}

func (s *racingStore) CreateBuild(b *core.Build) error {
	if !s.raced {
		s.raced = true
		rival := *b
		rival.ID = ""
		if err := s.Store.CreateBuild(&rival); err != nil {
			return err
		}
	}
	return s.Store.CreateBuild(b)
}

func TestBuildNumberRaceReallocates(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)
	eng.store = &racingStore{Store: eng.store}

	cfg := parsePipeline(t, `
test_script:
  - echo ok
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)
	assert.Equal(t, int64(2), build.Number, "the contested number belongs to the rival")
	assert.Equal(t, "1.0.2", build.Version, "the version follows the re-allocated number")
}

func TestRollingBuildConsultsOwnStoreWithoutAPI(t *testing.T) {
	requirePosixShell(t)

	// A rival build for the same pull request lands in the shared store
	// right after this build starts, before any job reaches install.
	var eng *Engine
	var rivalOnce sync.Once
	eng = newTestEngine(t, func(cfg *Config) {
		cfg.Events = func(ev Event) {
			if ev.Kind != EventBuildStarted {
				return
			}
			rivalOnce.Do(func() {
				rival := *ev.Build
				rival.ID = ""
				rival.Number++
				rival.Status = core.BuildStatusQueued
				require.NoError(t, eng.Store().CreateBuild(&rival))
			})
		}
	})
	cfg := parsePipeline(t, `
rolling_builds: true
install:
  - touch install.ran
test_script:
  - echo tested
`)

	opts := RunOptions{Branch: "feature", Commit: "9c41d2e", PullRequest: "41"}
	build, err := eng.Run(context.Background(), cfg, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, supersede.ErrSuperseded)
	assert.Equal(t, core.BuildStatusCancelled, build.Status)

	assert.NoFileExists(t, filepath.Join(workspacePath(eng, 1), "install.ran"))
}

func TestSecureVariablesDecryptAndMask(t *testing.T) {
	requirePosixShell(t)

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	identityPath := filepath.Join(t.TempDir(), "identity.txt")
	require.NoError(t, os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0o600))

	ciphertext, err := secret.Encrypt("hunter2", []string{identity.Recipient().String()})
	require.NoError(t, err)

	var stdout bytes.Buffer
	eng := newTestEngine(t, func(cfg *Config) {
		cfg.IdentityFile = identityPath
		cfg.Stdout = &stdout
	})
	cfg := parsePipeline(t, strings.ReplaceAll(`
environment:
  API_TOKEN:
    secure: CIPHERTEXT
test_script:
  - echo "token is $API_TOKEN"
  - printf '%s' "$API_TOKEN" > token.txt
`, "CIPHERTEXT", ciphertext))

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)

	token, err := os.ReadFile(filepath.Join(workspacePath(eng, 1), "token.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(token), "the step must see the plaintext")

	assert.Contains(t, stdout.String(), "token is [secure]")
	assert.NotContains(t, stdout.String(), "hunter2", "plaintext must never reach the log")

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "[secure]", jobs[0].Variables["API_TOKEN"], "plaintext must never reach the store")
}

func TestSecureVariablesRequireIdentity(t *testing.T) {
	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
environment:
  API_TOKEN:
    secure: bm90LXJlYWwtY2lwaGVydGV4dA==
test_script:
  - echo unreachable
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret identity")
	assert.Equal(t, core.BuildStatusFailed, build.Status)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs, "the build must fail before any job is queued")
}

func TestEnvironmentCarriesAcrossStepsAndPhases(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
install:
  - export CONDA_HOME=/opt/conda
before_test:
  - CONDA_FLAVOR=mini; export CONDA_FLAVOR
test_script:
  - printf '%s:%s\n' "$CONDA_HOME" "$CONDA_FLAVOR" > tools.txt
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)

	out, err := os.ReadFile(filepath.Join(workspacePath(eng, 1), "tools.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/conda:mini\n", string(out))
}

func TestArtifactsCollectedAfterSuccess(t *testing.T) {
	requirePosixShell(t)

	workDir := t.TempDir()
	eng := newTestEngine(t, func(cfg *Config) {
		cfg.WorkDir = workDir
	})
	cfg := parsePipeline(t, `
build_script:
  - mkdir -p dist
  - printf wheel > dist/hook-1.0.whl
artifacts:
  - path: dist/*.whl
    name: wheels
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)

	dest := filepath.Join(workDir, "artifacts", "build-1", "job-01")
	manifest, err := artifact.ReadManifest(dest)
	require.NoError(t, err)
	require.Len(t, manifest.Files, 1)
	assert.Equal(t, "dist/hook-1.0.whl", manifest.Files[0].Path)
	assert.Equal(t, "wheels", manifest.Files[0].Name)
	assert.Equal(t, int64(5), manifest.Files[0].Size)
	assert.FileExists(t, filepath.Join(dest, "dist", "hook-1.0.whl"))
}

func TestCacheRestoresAcrossBuilds(t *testing.T) {
	requirePosixShell(t)

	workDir := t.TempDir()
	eng := newTestEngine(t, func(cfg *Config) {
		cfg.WorkDir = workDir
	})

	seed := parsePipeline(t, `
cache:
  - wheelhouse
install:
  - mkdir -p wheelhouse
  - printf fresh > wheelhouse/stamp
test_script:
  - echo seeded
`)
	first, err := eng.Run(context.Background(), seed, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, first.Status)

	archives, err := filepath.Glob(filepath.Join(workDir, "cache", "*.tar.zst"))
	require.NoError(t, err)
	require.Len(t, archives, 1, "a successful job must save its cache")

	// The second build starts from a fresh workspace; install fails
	// unless the cache was restored first.
	probe := parsePipeline(t, `
cache:
  - wheelhouse
install:
  - test -f wheelhouse/stamp
test_script:
  - echo warm
`)
	second, err := eng.Run(context.Background(), probe, mainTrigger())
	require.NoError(t, err, "the restored cache must be present before install")
	assert.Equal(t, core.BuildStatusSuccess, second.Status)
	assert.Equal(t, int64(2), second.Number)
}

func TestJobFilterRunsMatchingCellsOnly(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
environment:
  matrix:
    - PYTHON: "27"
    - PYTHON: "39"
test_script:
  - echo "python $PYTHON"
`)

	opts := mainTrigger()
	opts.JobFilter = "python=39"
	build, err := eng.Run(context.Background(), cfg, opts)
	require.NoError(t, err)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "PYTHON=39", jobs[0].Name)
}

func TestJobFilterWithoutMatchFailsTheBuild(t *testing.T) {
	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, `
test_script:
  - echo ok
`)

	opts := mainTrigger()
	opts.JobFilter = "PYTHON=36"
	build, err := eng.Run(context.Background(), cfg, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matrix job matches")
	assert.Equal(t, core.BuildStatusFailed, build.Status)
}

func TestJobTimeoutFailsTheJob(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, func(cfg *Config) {
		cfg.JobTimeout = 500 * time.Millisecond
	})
	cfg := parsePipeline(t, `
test_script:
  - sleep 5
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.Error(t, err)
	assert.Equal(t, core.BuildStatusFailed, build.Status)

	jobs, err := eng.Store().GetJobsForBuild(build.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, core.JobStatusFailed, jobs[0].Status, "a timeout is a failure, not a cancellation")
	assert.Contains(t, jobs[0].Error, "timed out")
}

func TestSkipBranchWithOpenPullRequest(t *testing.T) {
	requirePosixShell(t)

	eng := newTestEngine(t, nil)

	prBuild := parsePipeline(t, `
test_script:
  - echo pr build
`)
	_, err := eng.Run(context.Background(), prBuild, RunOptions{Branch: "feature", PullRequest: "41"})
	require.NoError(t, err)

	pushBuild := parsePipeline(t, `
skip_branch_with_pr: true
test_script:
  - echo push build
`)
	build, err := eng.Run(context.Background(), pushBuild, RunOptions{Branch: "feature"})
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSkipped, build.Status)
	assert.Contains(t, build.Error, "pull request")
}

func TestNotificationsDeliveredOnCompletion(t *testing.T) {
	requirePosixShell(t)

	type delivery struct {
		Event string      `json:"event"`
		Build *core.Build `json:"build"`
	}
	received := make(chan delivery, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d delivery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&d))
		received <- d
	}))
	defer hook.Close()

	eng := newTestEngine(t, nil)
	cfg := parsePipeline(t, strings.ReplaceAll(`
test_script:
  - echo ok
notifications:
  - provider: webhook
    url: HOOK_URL
`, "HOOK_URL", hook.URL))

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)

	select {
	case d := <-received:
		assert.Equal(t, "build_completed", d.Event)
		require.NotNil(t, d.Build)
		assert.Equal(t, core.BuildStatusSuccess, d.Build.Status)
		assert.Equal(t, int64(1), d.Build.Number)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestSourceDirPopulatesWorkspace(t *testing.T) {
	requirePosixShell(t)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "hello.txt"), []byte("hi\n"), 0o644))

	eng := newTestEngine(t, func(cfg *Config) {
		cfg.SourceDir = src
	})
	cfg := parsePipeline(t, `
test_script:
  - grep -q hi sub/hello.txt
`)

	build, err := eng.Run(context.Background(), cfg, mainTrigger())
	require.NoError(t, err)
	assert.Equal(t, core.BuildStatusSuccess, build.Status)
}
