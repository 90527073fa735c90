package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs are directory names never copied into a sandbox: build output
// and version-control metadata have no bearing on verification and can be
// enormous.
var skipDirs = map[string]bool{
	"target": true,
	".git":   true,
	".hg":    true,
	".svn":   true,
}

// skipName reports whether a base name is excluded: an exact skipFiles
// entry, or a sidecar of one. SQLite in WAL mode keeps "-wal" and "-shm"
// files next to an open database, and those carry unsynced writes.
func skipName(name string, skipFiles map[string]bool) bool {
	if skipFiles[name] {
		return true
	}
	for base := range skipFiles {
		if strings.HasPrefix(name, base+"-") {
			return true
		}
	}
	return false
}

// copyTree deep-copies src into dst, skipping build output, VCS metadata,
// and any file whose base name appears in skipFiles (the knowledge cache
// lives in the project root and must never ride along).
func copyTree(src, dst string, skipFiles map[string]bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}

		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if skipName(name, skipFiles) {
			return nil
		}
		// Symlinks and other irregular entries are not part of a cargo
		// project's build inputs.
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
