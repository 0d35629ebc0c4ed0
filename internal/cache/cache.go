// Package cache preserves declared workspace paths between builds.
//
// Each cache entry becomes one zstd-compressed tar archive keyed by the
// entry path and the content of its optional dependency file, so
// "packages -> requirements.txt" invalidates itself when the
// requirements change. A corrupt or unreadable archive is treated as a
// miss, never as an error.
package cache

import (
	"archive/tar"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/rdmontgomery/exa/internal/schema"
)

const archiveSuffix = ".tar.zst"

// Key derives the archive key for a cache entry. The key covers the
// declared path and the dependency file content; a missing dependency
// file hashes as empty.
func Key(workspace string, entry schema.CacheEntry) (string, error) {
	hasher := blake3.New()
	hasher.Write([]byte(entry.Path))
	hasher.Write([]byte{0})

	if entry.KeyFile != "" {
		hasher.Write([]byte(entry.KeyFile))
		hasher.Write([]byte{0})
		content, err := os.ReadFile(filepath.Join(workspace, normalize(entry.KeyFile)))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read cache key file %s: %w", entry.KeyFile, err)
		}
		hasher.Write(content)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ArchivePath returns where the archive for a key lives under cacheDir.
func ArchivePath(cacheDir, key string) string {
	return filepath.Join(cacheDir, key+archiveSuffix)
}

// Save archives the entry path from the workspace into cacheDir.
// A path that does not exist yet saves nothing and is not an error.
func Save(workspace, cacheDir string, entry schema.CacheEntry) error {
	target := filepath.Join(workspace, normalize(entry.Path))
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	key, err := Key(workspace, entry)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}

	// Write to a temp file and rename so a crash never leaves a
	// truncated archive behind.
	tmp, err := os.CreateTemp(cacheDir, "cache-*.partial")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(tmp, workspace, target); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to archive %s: %w", entry.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), ArchivePath(cacheDir, key))
}

// Restore unpacks the entry's archive into the workspace. It reports
// whether anything was restored. Corrupt archives are deleted and
// reported as a miss.
func Restore(workspace, cacheDir string, entry schema.CacheEntry) (bool, error) {
	key, err := Key(workspace, entry)
	if err != nil {
		return false, err
	}
	archive := ArchivePath(cacheDir, key)

	f, err := os.Open(archive)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := readArchive(f, workspace); err != nil {
		// Corrupt archive: drop it so the next build rebuilds the cache.
		f.Close()
		os.Remove(archive)
		return false, nil
	}
	return true, nil
}

func writeArchive(w io.Writer, workspace, target string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func readArchive(r io.Reader, workspace string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rel := filepath.FromSlash(header.Name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("archive entry escapes workspace: %s", header.Name)
		}
		dest := filepath.Join(workspace, rel)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, fs.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// normalize converts either slash style from the pipeline file to the
// host separator.
func normalize(path string) string {
	return filepath.FromSlash(strings.ReplaceAll(path, `\`, "/"))
}
