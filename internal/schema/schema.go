// Package schema defines the pipeline configuration format: the YAML
// document that declares environment variables, the build matrix, and the
// scripted phases a build runs through.
package schema

import "github.com/rdmontgomery/exa/pkg/core"

// Config is a parsed pipeline definition.
type Config struct {
	Version       string        `yaml:"version"`
	CloneFolder   string        `yaml:"clone_folder"`
	Environment   Environment   `yaml:"environment"`
	Platform      StringList    `yaml:"platform"`
	Configuration StringList    `yaml:"configuration"`
	Matrix        MatrixOptions `yaml:"matrix"`

	Init        []Step    `yaml:"init"`
	Install     []Step    `yaml:"install"`
	BeforeBuild []Step    `yaml:"before_build"`
	Build       BuildMode `yaml:"build"`
	BuildScript []Step    `yaml:"build_script"`
	AfterBuild  []Step    `yaml:"after_build"`
	BeforeTest  []Step    `yaml:"before_test"`
	TestScript  []Step    `yaml:"test_script"`
	AfterTest   []Step    `yaml:"after_test"`
	OnSuccess   []Step    `yaml:"on_success"`
	OnFailure   []Step    `yaml:"on_failure"`
	OnFinish    []Step    `yaml:"on_finish"`

	Branches         BranchFilter   `yaml:"branches"`
	SkipTags         bool           `yaml:"skip_tags"`
	SkipBranchWithPR bool           `yaml:"skip_branch_with_pr"`
	SkipCommits      SkipCommits    `yaml:"skip_commits"`
	RollingBuilds    bool           `yaml:"rolling_builds"`
	Artifacts        []Artifact     `yaml:"artifacts"`
	Cache            []CacheEntry   `yaml:"cache"`
	Notifications    []Notification `yaml:"notifications"`
}

// Environment holds the variable declarations for a pipeline: globals that
// apply to every job, and the matrix rows that fan jobs out.
type Environment struct {
	Global map[string]EnvValue
	Matrix []MatrixRow
}

// MatrixRow is one environment variant. Names preserves declaration order
// for job naming; Vars is the lookup map.
type MatrixRow struct {
	Names []string
	Vars  map[string]EnvValue
}

// EnvValue is an environment variable value: plain text or an encrypted
// secure value that is decrypted at job start.
type EnvValue struct {
	Value  string
	Secure string
}

// IsSecure reports whether the value must be decrypted before use.
func (v EnvValue) IsSecure() bool { return v.Secure != "" }

// Step is a single scripted command with an optional explicit shell.
// An empty Shell means the platform default.
type Step struct {
	Command string
	Shell   string
}

// Shell names accepted in explicit step forms.
const (
	ShellCmd        = "cmd"
	ShellPowershell = "ps"
	ShellPosix      = "sh"
)

// StringList decodes from either a scalar or a sequence.
type StringList []string

// BuildMode mirrors the build key: true (default), or false/"off" to
// disable the build phase entirely.
type BuildMode struct {
	set bool
	off bool
}

// Disabled reports whether the build phase is turned off.
func (m BuildMode) Disabled() bool { return m.set && m.off }

// MatrixOptions tunes matrix expansion and failure semantics.
type MatrixOptions struct {
	FastFinish    bool       `yaml:"fast_finish"`
	Exclude       []Selector `yaml:"exclude"`
	AllowFailures []Selector `yaml:"allow_failures"`
}

// Selector matches jobs by dimension or variable values. Keys are
// "platform", "configuration", or environment variable names.
type Selector map[string]string

// BranchFilter restricts which branches trigger builds.
type BranchFilter struct {
	Only   []string `yaml:"only"`
	Except []string `yaml:"except"`
}

// SkipCommits skips builds by commit message pattern or touched files.
type SkipCommits struct {
	Message string   `yaml:"message"`
	Files   []string `yaml:"files"`
}

// Artifact declares files to collect from the workspace after a
// successful job.
type Artifact struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// CacheEntry declares a path preserved between builds. The optional key
// file invalidates the cache when its content changes
// ("packages -> requirements.txt").
type CacheEntry struct {
	Path    string
	KeyFile string
}

// Notification declares a build-completion notification target.
type Notification struct {
	Provider       string `yaml:"provider"`
	URL            string `yaml:"url"`
	OnBuildSuccess *bool  `yaml:"on_build_success"`
	OnBuildFailure *bool  `yaml:"on_build_failure"`
}

// NotifyOnSuccess reports whether success notifications are enabled
// (default true).
func (n Notification) NotifyOnSuccess() bool {
	return n.OnBuildSuccess == nil || *n.OnBuildSuccess
}

// NotifyOnFailure reports whether failure notifications are enabled
// (default true).
func (n Notification) NotifyOnFailure() bool {
	return n.OnBuildFailure == nil || *n.OnBuildFailure
}

// StepsFor returns the step list for a named phase. The build_script
// phase returns nil when build is disabled.
func (c *Config) StepsFor(phase string) []Step {
	switch phase {
	case core.PhaseInit:
		return c.Init
	case core.PhaseInstall:
		return c.Install
	case core.PhaseBeforeBuild:
		return c.BeforeBuild
	case core.PhaseBuild:
		if c.Build.Disabled() {
			return nil
		}
		return c.BuildScript
	case core.PhaseAfterBuild:
		return c.AfterBuild
	case core.PhaseBeforeTest:
		return c.BeforeTest
	case core.PhaseTest:
		return c.TestScript
	case core.PhaseAfterTest:
		return c.AfterTest
	case core.PhaseOnSuccess:
		return c.OnSuccess
	case core.PhaseOnFailure:
		return c.OnFailure
	case core.PhaseOnFinish:
		return c.OnFinish
	}
	return nil
}

// HasSecureValues reports whether any environment value anywhere in the
// pipeline is encrypted.
func (c *Config) HasSecureValues() bool {
	for _, v := range c.Environment.Global {
		if v.IsSecure() {
			return true
		}
	}
	for _, row := range c.Environment.Matrix {
		for _, v := range row.Vars {
			if v.IsSecure() {
				return true
			}
		}
	}
	return false
}
