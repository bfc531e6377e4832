package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the state database would live on a
// network mount, where SQLite's WAL and file locks are unreliable.
var ErrNetworkFilesystem = errors.New("state database is on a network filesystem")

// errUnknownFilesystem means the platform cannot name a mount's filesystem.
// Placement is not checked then.
var errUnknownFilesystem = errors.New("filesystem type not reported on this platform")

// fsProbe names the filesystem an existing path is mounted on.
type fsProbe func(path string) (string, error)

var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// IsMemory reports whether path names an in-memory database, either the
// bare MemoryPath or a file: URI with mode=memory.
func IsMemory(path string) bool {
	if path == MemoryPath || strings.HasPrefix(path, "file::memory:") {
		return true
	}
	if !strings.HasPrefix(path, "file:") {
		return false
	}
	_, query, _ := strings.Cut(path, "?")
	for _, kv := range strings.Split(query, "&") {
		if kv == "mode=memory" {
			return true
		}
	}
	return false
}

// diskPath strips a file: URI down to the filesystem path it opens.
func diskPath(path string) string {
	if !strings.HasPrefix(path, "file:") {
		return path
	}
	p, _, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	return p
}

// checkPlacement refuses a state database on a network mount. A file that
// does not exist yet is judged by its nearest existing parent directory.
func checkPlacement(path string, probe fsProbe) error {
	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve state database %q: %w", path, err)
	}

	fsType, err := probe(dir)
	if errors.Is(err, errUnknownFilesystem) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect filesystem of %q: %w", dir, err)
	}

	if networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("%w: %q is on %s; snapshots and the task log need local disk, point state.path or --db elsewhere",
			ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		case dir == filepath.Dir(dir):
			return "", fmt.Errorf("no existing parent of %q", abs)
		}
	}
}
