package lint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmontgomery/exa/internal/lint"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

// Helper to run all rules on a pipeline and filter by rule ID
func runRule(t *testing.T, src string, ruleID string) []lint.Diagnostic {
	t.Helper()
	cfg, err := schema.Parse([]byte(src))
	require.NoError(t, err)

	diags := lint.Check(cfg, lint.Options{Threshold: core.SeverityHint})

	var filtered []lint.Diagnostic
	for _, d := range diags {
		if d.RuleID == ruleID {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func TestMX01_UnreferencedVariable(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantDiag bool
	}{
		{
			name: "variable never referenced",
			src: `
environment:
  matrix:
    - PYTHON: C:\Python27
      LEFTOVER: C:\Python26
install:
  - "%PYTHON%\\python.exe --version"
`,
			wantDiag: true,
		},
		{
			name: "referenced by percent form",
			src: `
environment:
  matrix:
    - PYTHON: C:\Python27
install:
  - "%PYTHON%\\python.exe --version"
`,
			wantDiag: false,
		},
		{
			name: "referenced by brace form",
			src: `
environment:
  matrix:
    - PYTHON_VERSION: "3.4"
test_script:
  - echo testing ${PYTHON_VERSION}
`,
			wantDiag: false,
		},
		{
			name: "referenced by exclude selector",
			src: `
environment:
  matrix:
    - PYTHON_ARCH: "64"
matrix:
  exclude:
    - PYTHON_ARCH: "64"
`,
			wantDiag: false,
		},
		{
			name: "referenced by another variable",
			src: `
environment:
  matrix:
    - PYTHON: C:\Python27
      PYTHON_EXE: "%PYTHON%\\python.exe"
test_script:
  - "%PYTHON_EXE% -m pytest"
`,
			wantDiag: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := runRule(t, tt.src, "MX01")
			if tt.wantDiag {
				assert.NotEmpty(t, diags, "expected MX01 diagnostic")
			} else {
				assert.Empty(t, diags, "unexpected MX01 diagnostic")
			}
		})
	}
}

func TestMX02_DeadExclude(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantDiag bool
	}{
		{
			name: "exclude matches no platform",
			src: `
platform: x86
matrix:
  exclude:
    - platform: x64
`,
			wantDiag: true,
		},
		{
			name: "exclude matches a job",
			src: `
platform:
  - x86
  - x64
matrix:
  exclude:
    - platform: x64
`,
			wantDiag: false,
		},
		{
			name: "exclude matches stale variable value",
			src: `
environment:
  matrix:
    - PYTHON_VERSION: "3.4"
matrix:
  exclude:
    - PYTHON_VERSION: "2.6"
`,
			wantDiag: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := runRule(t, tt.src, "MX02")
			if tt.wantDiag {
				assert.NotEmpty(t, diags, "expected MX02 diagnostic")
			} else {
				assert.Empty(t, diags, "unexpected MX02 diagnostic")
			}
		})
	}
}

func TestMX03_DuplicateRow(t *testing.T) {
	src := `
environment:
  matrix:
    - PYTHON: C:\Python27
    - PYTHON: C:\Python34
    - PYTHON: C:\Python27
`
	diags := runRule(t, src, "MX03")
	require.Len(t, diags, 1)
	assert.Equal(t, "environment.matrix[2]", diags[0].Key)
	assert.Contains(t, diags[0].Message, "environment.matrix[0]")

	assert.Empty(t, runRule(t, `
environment:
  matrix:
    - PYTHON: C:\Python27
    - PYTHON: C:\Python34
`, "MX03"))
}

func TestST01_MissingTestScript(t *testing.T) {
	diags := runRule(t, "install:\n  - echo hi\n", "ST01")
	require.Len(t, diags, 1)
	assert.Equal(t, "test_script", diags[0].Key)

	assert.Empty(t, runRule(t, "test_script:\n  - pytest\n", "ST01"))
}

func TestST02_IgnoredBuildScript(t *testing.T) {
	diags := runRule(t, "build: false\nbuild_script:\n  - python setup.py build\n", "ST02")
	require.Len(t, diags, 1)
	assert.Equal(t, core.SeverityWarning, diags[0].Severity)

	assert.Empty(t, runRule(t, "build_script:\n  - python setup.py build\n", "ST02"))
	assert.Empty(t, runRule(t, "build: false\n", "ST02"))
}

func TestST03_AbsoluteInterpreter(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantDiag bool
	}{
		{
			name:     "windows absolute path",
			src:      "test_script:\n  - C:\\Python27\\python.exe -m pytest\n",
			wantDiag: true,
		},
		{
			name:     "posix absolute path",
			src:      "install:\n  - /usr/bin/python3 --version\n",
			wantDiag: true,
		},
		{
			name:     "matrix variable",
			src:      "test_script:\n  - \"%PYTHON%\\\\python.exe -m pytest\"\n",
			wantDiag: false,
		},
		{
			name:     "bare command",
			src:      "test_script:\n  - pytest exa\n",
			wantDiag: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := runRule(t, tt.src, "ST03")
			if tt.wantDiag {
				assert.NotEmpty(t, diags, "expected ST03 diagnostic")
			} else {
				assert.Empty(t, diags, "unexpected ST03 diagnostic")
			}
		})
	}
}

func TestEN01_RedundantOverride(t *testing.T) {
	src := `
environment:
  CONDA_CHANNEL: conda-forge
  matrix:
    - PYTHON_VERSION: "2.7"
      CONDA_CHANNEL: conda-forge
test_script:
  - echo ${PYTHON_VERSION} ${CONDA_CHANNEL}
`
	diags := runRule(t, src, "EN01")
	require.Len(t, diags, 1)
	assert.Equal(t, "environment.matrix[0]", diags[0].Key)
	assert.Contains(t, diags[0].Message, "CONDA_CHANNEL")

	// A changed value is a real override
	assert.Empty(t, runRule(t, `
environment:
  CONDA_CHANNEL: conda-forge
  matrix:
    - CONDA_CHANNEL: bioconda
test_script:
  - echo ${CONDA_CHANNEL}
`, "EN01"))
}

func TestEN02_PlaintextSecret(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantDiag bool
	}{
		{
			name:     "plaintext token in globals",
			src:      "environment:\n  DEPLOY_TOKEN: ghp_live1234567890\n",
			wantDiag: true,
		},
		{
			name:     "plaintext password in matrix row",
			src:      "environment:\n  matrix:\n    - DB_PASSWORD: hunter2\n",
			wantDiag: true,
		},
		{
			name:     "secure value",
			src:      "environment:\n  DEPLOY_TOKEN:\n    secure: YXNkZjEyMzQ=\n",
			wantDiag: false,
		},
		{
			name:     "value is itself a reference",
			src:      "environment:\n  DEPLOY_TOKEN: \"%REAL_TOKEN%\"\n",
			wantDiag: false,
		},
		{
			name:     "ordinary variable",
			src:      "environment:\n  CONDA_CHANNEL: conda-forge\n",
			wantDiag: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := runRule(t, tt.src, "EN02")
			if tt.wantDiag {
				assert.NotEmpty(t, diags, "expected EN02 diagnostic")
			} else {
				assert.Empty(t, diags, "unexpected EN02 diagnostic")
			}
		})
	}

	def, ok := lint.GetByID("EN02")
	require.True(t, ok)
	assert.Contains(t, def.Fix, "exa encrypt", "the fix must name the real command")
}

func TestVR01_StaticVersion(t *testing.T) {
	diags := runRule(t, "version: 1.0.0\n", "VR01")
	require.Len(t, diags, 1)
	assert.Equal(t, "version", diags[0].Key)

	assert.Empty(t, runRule(t, "version: 1.0.{build}\n", "VR01"))
	assert.Empty(t, runRule(t, "install:\n  - echo no version\n", "VR01"))
}

func TestCheckThresholdFilters(t *testing.T) {
	cfg, err := schema.Parse([]byte(`
environment:
  CONDA_CHANNEL: conda-forge
  matrix:
    - CONDA_CHANNEL: conda-forge
test_script:
  - echo ${CONDA_CHANNEL}
`))
	require.NoError(t, err)

	all := lint.Check(cfg, lint.Options{Threshold: core.SeverityHint})
	var hasHint bool
	for _, d := range all {
		if d.Severity == core.SeverityHint {
			hasHint = true
		}
	}
	require.True(t, hasHint, "fixture should produce a hint-level finding")

	filtered := lint.Check(cfg, lint.Options{Threshold: core.SeverityWarning})
	for _, d := range filtered {
		assert.LessOrEqual(t, d.Severity, core.SeverityWarning)
	}
}

func TestCheckDisableSkipsRules(t *testing.T) {
	cfg, err := schema.Parse([]byte("install:\n  - echo hi\n"))
	require.NoError(t, err)

	withRule := lint.Check(cfg, lint.Options{Threshold: core.SeverityHint})
	var found bool
	for _, d := range withRule {
		if d.RuleID == "ST01" {
			found = true
		}
	}
	require.True(t, found)

	without := lint.Check(cfg, lint.Options{Threshold: core.SeverityHint, Disable: []string{"ST01"}})
	for _, d := range without {
		assert.NotEqual(t, "ST01", d.RuleID)
	}
}

func TestCheckOrdersDiagnostics(t *testing.T) {
	cfg, err := schema.Parse([]byte(`
version: 1.0.0
build: false
build_script:
  - echo x
`))
	require.NoError(t, err)

	diags := lint.Check(cfg, lint.Options{Threshold: core.SeverityHint})
	for i := 1; i < len(diags); i++ {
		assert.LessOrEqual(t, diags[i-1].RuleID, diags[i].RuleID, "diagnostics should sort by rule ID")
	}
}

func TestHasSeverity(t *testing.T) {
	diags := []lint.Diagnostic{
		{RuleID: "ST01", Severity: core.SeverityWarning},
		{RuleID: "EN01", Severity: core.SeverityHint},
	}
	assert.True(t, lint.HasSeverity(diags, core.SeverityWarning))
	assert.True(t, lint.HasSeverity(diags, core.SeverityHint))
	assert.False(t, lint.HasSeverity(diags, core.SeverityError))
	assert.False(t, lint.HasSeverity(nil, core.SeverityHint))
}

func TestRegistry(t *testing.T) {
	assert.GreaterOrEqual(t, lint.Count(), 9)

	rule, ok := lint.GetByID("MX01")
	require.True(t, ok)
	assert.Equal(t, "matrix.unreferenced_variable", rule.Name)

	matrixRules := lint.GetByGroup("matrix")
	assert.Len(t, matrixRules, 3)

	all := lint.All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID, "All should sort by ID")
	}

	infos := lint.Infos()
	require.Len(t, infos, lint.Count())
	assert.Equal(t, "MX01", infos[0].ID)
}
