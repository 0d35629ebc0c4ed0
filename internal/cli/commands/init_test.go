package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string) // setup before running
		force     bool
		wantErr   bool
		wantFiles []string
	}{
		{
			name:    "init empty directory",
			wantErr: false,
			wantFiles: []string{
				"build.yml",
				"exa.yaml",
				".gitignore",
			},
		},
		{
			name: "init existing pipeline without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "build.yml"), []byte("existing"), 0600)
			},
			wantErr: true,
		},
		{
			name: "init existing pipeline with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "build.yml"), []byte("existing"), 0600)
			},
			force:   true,
			wantErr: false,
			wantFiles: []string{
				"build.yml",
				"exa.yaml",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			// Run setup if provided
			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			args := []string{tmpDir}
			if tt.force {
				args = append(args, "--force")
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			// Check expected files exist
			for _, f := range tt.wantFiles {
				path := filepath.Join(tmpDir, f)
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "expected file %q to exist", f)
			}
		})
	}
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("force"), "--force flag should exist")
}

func TestInitForceOverwritesPipeline(t *testing.T) {
	tmpDir := t.TempDir()
	pipelinePath := filepath.Join(tmpDir, "build.yml")
	require.NoError(t, os.WriteFile(pipelinePath, []byte("stale"), 0600))

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{tmpDir, "--force"})

	require.NoError(t, cmd.Execute())

	content, err := os.ReadFile(pipelinePath)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", string(content), "force should replace the existing pipeline")
}

func TestInitCreatesValidPipeline(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)

	// The starter pipeline must parse and validate
	cfg, path, err := schema.Load(filepath.Join(tmpDir, "build.yml"), "")
	require.NoError(t, err, "starter pipeline should load")
	assert.Equal(t, filepath.Join(tmpDir, "build.yml"), path)
	require.NoError(t, cfg.Validate(), "starter pipeline should validate")

	// Settings file references the pipeline
	settings, err := os.ReadFile(filepath.Join(tmpDir, "exa.yaml"))
	require.NoError(t, err, "failed to read exa.yaml")

	expectedContents := []string{
		"pipeline: build.yml",
		"account:",
		"state_dsn:",
	}

	for _, expected := range expectedContents {
		assert.Contains(t, string(settings), expected, "settings should contain %q", expected)
	}
}
