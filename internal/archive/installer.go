package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	cp "github.com/otiai10/copy"
)

// Error kinds reported by Install. Callers match them with errors.Is.
var (
	ErrCorruptArchive   = errors.New("snapshot is not a valid zip archive")
	ErrUnexpectedLayout = errors.New("snapshot does not contain exactly one root folder")
)

// maxFileSize caps a single extracted file to guard against zip bombs.
const maxFileSize = 256 * 1024 * 1024

// Installer replaces a destination directory's contents with an archive snapshot
type Installer interface {
	// Install validates the archive and atomically replaces destDir's contents
	Install(data []byte, destDir string) error
}

// ZipInstaller implements Installer for the zip archives the GitHub archive
// endpoint produces: a single root folder containing the branch tree.
type ZipInstaller struct {
	cacheDir string
	ignore   []string
	logger   *slog.Logger
}

// NewZipInstaller creates an installer that stages temp files and extraction
// scratch directories under cacheDir. Entries matching one of the ignore
// globs (relative to the archive root folder) are skipped during extraction.
func NewZipInstaller(cacheDir string, ignore []string, logger *slog.Logger) *ZipInstaller {
	return &ZipInstaller{
		cacheDir: cacheDir,
		ignore:   ignore,
		logger:   logger,
	}
}

// Install writes the archive to a temp file, extracts it into a scratch
// directory, verifies the single-root-folder layout, and only then replaces
// the destination directory's contents. Scratch files are removed before
// returning, success or failure; the destination is never touched before the
// layout check passes.
func (i *ZipInstaller) Install(data []byte, destDir string) error {
	if err := os.MkdirAll(i.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(i.cacheDir, "snapshot-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp archive file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp archive file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive file: %w", err)
	}

	zr, err := zip.OpenReader(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	scratch, err := os.MkdirTemp(i.cacheDir, "extract-")
	if err != nil {
		_ = zr.Close()
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	extractErr := i.extract(&zr.Reader, scratch)
	_ = zr.Close()
	// The temp archive is no longer needed whether extraction worked or not
	_ = os.Remove(tmpPath)
	if extractErr != nil {
		return extractErr
	}

	root, err := singleRoot(scratch)
	if err != nil {
		return err
	}

	return i.replace(root, destDir)
}

// extract unpacks all archive entries into destDir, rejecting entries that
// would escape it and skipping anything matched by the ignore globs.
func (i *ZipInstaller) extract(zr *zip.Reader, destDir string) error {
	for _, f := range zr.File {
		name, err := sanitizeName(f.Name)
		if err != nil {
			return err
		}
		if name == "." {
			continue
		}

		skip, err := i.ignored(name)
		if err != nil {
			return err
		}
		if skip {
			i.logger.Debug("skipping ignored archive entry", "entry", name)
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory for %s: %w", name, err)
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
	}
	return nil
}

// sanitizeName normalizes an archive entry path and rejects absolute paths
// and parent-directory escapes.
func sanitizeName(name string) (string, error) {
	// Archives generated on Windows may carry backslash separators
	n := strings.ReplaceAll(name, `\`, "/")

	if path.IsAbs(n) {
		return "", fmt.Errorf("%w: entry %q is an absolute path", ErrCorruptArchive, name)
	}

	n = path.Clean(n)
	if n == ".." || strings.HasPrefix(n, "../") {
		return "", fmt.Errorf("%w: entry %q escapes the archive root", ErrCorruptArchive, name)
	}

	return n, nil
}

// ignored reports whether the entry matches one of the ignore globs. Patterns
// are matched against the path relative to the archive's root folder, since
// that folder's name embeds the branch and is not stable.
func (i *ZipInstaller) ignored(name string) (bool, error) {
	if len(i.ignore) == 0 {
		return false, nil
	}

	rel := name
	if _, rest, found := strings.Cut(name, "/"); found {
		rel = rest
	}

	for _, pattern := range i.ignore {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, io.LimitReader(rc, maxFileSize)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// singleRoot verifies the expected archive-download layout: exactly one
// top-level entry, and it is a directory. Returns that directory's path.
func singleRoot(scratch string) (string, error) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", fmt.Errorf("failed to enumerate scratch directory: %w", err)
	}

	if len(entries) != 1 {
		return "", fmt.Errorf("%w: found %d top-level entries", ErrUnexpectedLayout, len(entries))
	}
	if !entries[0].IsDir() {
		return "", fmt.Errorf("%w: top-level entry %s is not a directory", ErrUnexpectedLayout, entries[0].Name())
	}

	return filepath.Join(scratch, entries[0].Name()), nil
}

// replace clears destDir and moves the root folder's contents into it.
// Entries are moved with rename; when scratch and destination live on
// different volumes rename fails and we fall back to a recursive copy, which
// widens the non-atomic window (documented limitation).
func (i *ZipInstaller) replace(root, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to clear destination directory: %w", err)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to recreate destination directory: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to enumerate root folder: %w", err)
	}

	for _, entry := range entries {
		src := filepath.Join(root, entry.Name())
		dst := filepath.Join(destDir, entry.Name())

		if err := os.Rename(src, dst); err == nil {
			continue
		}

		i.logger.Debug("rename failed, falling back to copy", "entry", entry.Name())
		if err := cp.Copy(src, dst); err != nil {
			return fmt.Errorf("failed to move %s into destination: %w", entry.Name(), err)
		}
	}

	return nil
}
