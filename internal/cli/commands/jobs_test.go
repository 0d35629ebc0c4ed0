package commands

import (
	"encoding/json"
	"testing"

	"github.com/rdmontgomery/exa/internal/cli/testutil"
	"github.com/rdmontgomery/exa/internal/matrix"
	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatJobVariables(t *testing.T) {
	job := matrix.Job{
		RowNames: []string{"PY", "ARCH"},
		Env: map[string]schema.EnvValue{
			"PY":     {Value: "3.12"},
			"ARCH":   {Value: "x64"},
			"GLOBAL": {Value: "shared"},
			"TOKEN":  {Secure: "AGE-ENCRYPTED"},
		},
	}

	got := formatJobVariables(job)

	// Row variables come first in declaration order, the rest sorted.
	assert.Equal(t, "PY=3.12\nARCH=x64\nGLOBAL=shared\nTOKEN=[secure]", got)
}

func TestFormatJobVariablesEmpty(t *testing.T) {
	assert.Equal(t, "", formatJobVariables(matrix.Job{}))
}

func TestDisplayEnvValue(t *testing.T) {
	assert.Equal(t, "plain", displayEnvValue(schema.EnvValue{Value: "plain"}))
	assert.Equal(t, "[secure]", displayEnvValue(schema.EnvValue{Secure: "AGE-ENCRYPTED"}))
}

func TestJobsTableMarkdown(t *testing.T) {
	tr := testutil.NewTestRendererMarkdown()
	jobs := []matrix.Job{
		{
			Name:     "PY=3.12; platform=x64",
			Platform: "x64",
			RowNames: []string{"PY"},
			Env:      map[string]schema.EnvValue{"PY": {Value: "3.12"}},
		},
		{
			Name:         "PY=3.11; platform=x64",
			Platform:     "x64",
			RowNames:     []string{"PY"},
			Env:          map[string]schema.EnvValue{"PY": {Value: "3.11"}},
			AllowFailure: true,
		},
	}

	require.NoError(t, jobsTable(tr.Renderer, "build.yml", jobs))

	out := tr.Output()
	testutil.AssertContains(t, out, "Matrix for build.yml (2 jobs)")
	testutil.AssertContains(t, out, "PY=3.12; platform=x64")
	testutil.AssertContains(t, out, "yes")
	testutil.AssertNoANSI(t, out)
}

func TestJobsJSON(t *testing.T) {
	tr := testutil.NewTestRendererJSON()
	jobs := []matrix.Job{
		{
			Name:          "PY=3.12; platform=x64",
			Platform:      "x64",
			Configuration: "Release",
			RowNames:      []string{"PY"},
			Env: map[string]schema.EnvValue{
				"PY":    {Value: "3.12"},
				"TOKEN": {Secure: "AGE-ENCRYPTED"},
			},
		},
	}

	require.NoError(t, jobsJSON(tr.Renderer, "build.yml", jobs))

	var report struct {
		File string `json:"file"`
		Jobs []struct {
			Name          string            `json:"name"`
			Platform      string            `json:"platform"`
			Configuration string            `json:"configuration"`
			Variables     map[string]string `json:"variables"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &report))

	assert.Equal(t, "build.yml", report.File)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, "PY=3.12; platform=x64", report.Jobs[0].Name)
	assert.Equal(t, "Release", report.Jobs[0].Configuration)
	assert.Equal(t, "3.12", report.Jobs[0].Variables["PY"])
	// Secure values never leak through listings
	assert.Equal(t, "[secure]", report.Jobs[0].Variables["TOKEN"])
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "job", pluralize(1, "job", "jobs"))
	assert.Equal(t, "jobs", pluralize(0, "job", "jobs"))
	assert.Equal(t, "jobs", pluralize(2, "job", "jobs"))
}
