package matrix

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmontgomery/exa/internal/schema"
)

const canonicalPipeline = `
environment:
  CONDA_CHANNEL: defaults
  matrix:
    - PYTHON: "C:\\Miniconda"
      PYTHON_VERSION: 2.7
      PYTHON_ARCH: 32
    - PYTHON: "C:\\Miniconda3-x64"
      PYTHON_VERSION: 3.6
      PYTHON_ARCH: 64

platform:
  - x86
  - x64

install:
  - conda install --yes pytest
test_script:
  - pytest exa
`

func parsePipeline(t *testing.T, src string) *schema.Config {
	t.Helper()
	cfg, err := schema.Parse([]byte(src))
	require.NoError(t, err)
	return cfg
}

func TestExpandCanonicalMatrix(t *testing.T) {
	cfg := parsePipeline(t, canonicalPipeline)
	jobs := Expand(cfg)

	require.Len(t, jobs, 4, "two matrix rows x two platforms")

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "canonical_matrix", renderJobs(jobs))
}

func TestExpandNoMatrixYieldsOneJob(t *testing.T) {
	cfg := parsePipeline(t, "install:\n  - echo hi\n")
	jobs := Expand(cfg)

	require.Len(t, jobs, 1)
	assert.Equal(t, "default", jobs[0].Name)
	assert.Empty(t, jobs[0].Platform)
}

func TestExpandOrderRowsOutermost(t *testing.T) {
	cfg := parsePipeline(t, `
environment:
  matrix:
    - V: a
    - V: b
platform: [x86, x64]
configuration: [Debug, Release]
`)
	jobs := Expand(cfg)
	require.Len(t, jobs, 8)

	var names []string
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{
		"V=a; platform=x86, configuration=Debug",
		"V=a; platform=x86, configuration=Release",
		"V=a; platform=x64, configuration=Debug",
		"V=a; platform=x64, configuration=Release",
		"V=b; platform=x86, configuration=Debug",
		"V=b; platform=x86, configuration=Release",
		"V=b; platform=x64, configuration=Debug",
		"V=b; platform=x64, configuration=Release",
	}, names)
}

func TestExpandExclude(t *testing.T) {
	cfg := parsePipeline(t, `
environment:
  matrix:
    - PYTHON_VERSION: 2.7
    - PYTHON_VERSION: 3.6
platform: [x86, x64]
matrix:
  exclude:
    - platform: x86
      PYTHON_VERSION: 3.6
`)
	jobs := Expand(cfg)
	require.Len(t, jobs, 3)
	for _, j := range jobs {
		excluded := j.Platform == "x86" && j.Env["PYTHON_VERSION"].Value == "3.6"
		assert.False(t, excluded, "excluded cell %s still present", j.Name)
	}
}

func TestExpandAllowFailures(t *testing.T) {
	cfg := parsePipeline(t, `
environment:
  matrix:
    - PYTHON_VERSION: 2.7
    - PYTHON_VERSION: 3.6
matrix:
  allow_failures:
    - PYTHON_VERSION: 2.7
`)
	jobs := Expand(cfg)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].AllowFailure)
	assert.False(t, jobs[1].AllowFailure)
}

func TestExpandMatrixRowOverridesGlobal(t *testing.T) {
	cfg := parsePipeline(t, `
environment:
  LEVEL: global
  matrix:
    - LEVEL: row
`)
	jobs := Expand(cfg)
	require.Len(t, jobs, 1)
	assert.Equal(t, "row", jobs[0].Env["LEVEL"].Value)
}

func TestMatchesSkipsSecureValues(t *testing.T) {
	job := Job{
		Platform: "x64",
		Env: map[string]schema.EnvValue{
			"TOKEN": {Secure: "sealed"},
		},
	}
	assert.False(t, Matches(job, schema.Selector{"TOKEN": "sealed"}))
	assert.True(t, Matches(job, schema.Selector{"platform": "x64"}))
	assert.False(t, Matches(job, schema.Selector{}))
}

func renderJobs(jobs []Job) []byte {
	var b strings.Builder
	for _, j := range jobs {
		b.WriteString(j.Name)
		b.WriteByte('\n')
		if j.AllowFailure {
			b.WriteString("  allow_failure\n")
		}
		keys := make([]string, 0, len(j.Env))
		for k := range j.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := j.Env[k]
			if v.IsSecure() {
				fmt.Fprintf(&b, "  %s=<secure>\n", k)
			} else {
				fmt.Fprintf(&b, "  %s=%s\n", k, v.Value)
			}
		}
	}
	return []byte(b.String())
}
