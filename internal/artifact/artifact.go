// Package artifact collects declared build outputs from a job workspace
// into a content-addressed manifest.
package artifact

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/rdmontgomery/exa/internal/schema"
)

// ManifestName is the file written next to collected artifacts.
const ManifestName = "manifest.json"

// Manifest lists everything collected from one job.
type Manifest struct {
	JobName     string    `json:"jobName,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
	Files       []File    `json:"files"`
}

// File is one collected artifact file.
type File struct {
	// Path is the workspace-relative path, slash-separated.
	Path string `json:"path"`
	// Name is the optional deployment name from the pipeline file.
	Name   string `json:"name,omitempty"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// Collect copies the files matched by the artifact declarations from
// workspace into destDir and writes a manifest. Paths may be files,
// directories, or glob patterns. A declaration that matches nothing is
// not an error; the build log is the place to notice that.
func Collect(workspace, destDir string, specs []schema.Artifact) (*Manifest, error) {
	manifest := &Manifest{GeneratedAt: time.Now().UTC()}

	for _, spec := range specs {
		matches, err := expand(workspace, spec.Path)
		if err != nil {
			return nil, fmt.Errorf("artifact %q: %w", spec.Path, err)
		}
		for _, rel := range matches {
			f, err := collectOne(workspace, destDir, rel, spec.Name)
			if err != nil {
				return nil, fmt.Errorf("artifact %q: %w", rel, err)
			}
			manifest.Files = append(manifest.Files, f)
		}
	}

	sort.Slice(manifest.Files, func(i, j int) bool {
		return manifest.Files[i].Path < manifest.Files[j].Path
	})

	if err := writeManifest(destDir, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// expand resolves one artifact path declaration to workspace-relative
// file paths. Declarations use either slash style; directories match
// recursively.
func expand(workspace, pattern string) ([]string, error) {
	pattern = filepath.FromSlash(strings.ReplaceAll(pattern, `\`, "/"))

	matches, err := filepath.Glob(filepath.Join(workspace, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern: %w", err)
	}

	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(workspace, match)
			if err != nil {
				return nil, err
			}
			files = append(files, rel)
			continue
		}
		err = filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(workspace, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func collectOne(workspace, destDir, rel, name string) (File, error) {
	src := filepath.Join(workspace, rel)
	dst := filepath.Join(destDir, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return File{}, err
	}

	in, err := os.Open(src)
	if err != nil {
		return File{}, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return File{}, err
	}
	defer out.Close()

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		return File{}, err
	}
	if err := out.Close(); err != nil {
		return File{}, err
	}

	return File{
		Path:   filepath.ToSlash(rel),
		Name:   name,
		Size:   size,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func writeManifest(destDir string, manifest *Manifest) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(destDir, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by Collect.
func ReadManifest(destDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(destDir, ManifestName))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &manifest, nil
}

// DigestFile computes the hex BLAKE3 digest of a file.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
