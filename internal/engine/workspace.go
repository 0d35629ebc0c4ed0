package engine

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

// prepareWorkspace creates the job's working directory and populates it
// from the source directory. Engine-owned workspaces under WorkDir are
// recreated fresh; a clone_folder directory is created if missing but
// never cleared, and gets a per-job suffix when the matrix has more than
// one job.
func (e *Engine) prepareWorkspace(build *core.Build, cfg *schema.Config, job *core.Job, jobCount int) (string, error) {
	var dir string
	if cfg.CloneFolder != "" {
		dir = filepath.FromSlash(strings.ReplaceAll(cfg.CloneFolder, `\`, "/"))
		if jobCount > 1 {
			dir = filepath.Join(dir, fmt.Sprintf("job-%02d", job.Ordinal+1))
		}
	} else {
		dir = jobDir(filepath.Join(e.workDir, "builds"), build, job)
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("failed to reset workspace: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	if e.sourceDir != "" {
		if err := copyTree(e.sourceDir, dir); err != nil {
			return "", fmt.Errorf("failed to populate workspace from %s: %w", e.sourceDir, err)
		}
	}
	return dir, nil
}

// jobDir lays out per-build, per-job directories under root.
func jobDir(root string, build *core.Build, job *core.Job) string {
	return filepath.Join(root,
		fmt.Sprintf("build-%d", build.Number),
		fmt.Sprintf("job-%02d", job.Ordinal+1))
}

// copyTree copies a directory tree. Regular files and directories only;
// symlinks and special files are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
