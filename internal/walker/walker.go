package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind is the lstat-derived type of a walked entry. Symlinks are never
// dereferenced, so a link to a directory is KindSymlink.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	default:
		return KindFile
	}
}

// Entry is one walked filesystem entry under the root.
type Entry struct {
	// RelPath is slash-separated and relative to the walk root. The root
	// itself is not emitted.
	RelPath string
	Kind    Kind
	// Err is set when a directory could not be listed; the entry then
	// reports the failed descent and its subtree is skipped.
	Err error
}

// Walker enumerates one root with exclude pattern support.
type Walker struct {
	root     string
	excludes []string
}

// New creates a walker for root. Root must exist and be a directory.
func New(root string, excludes []string) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	return &Walker{
		root:     absRoot,
		excludes: excludes,
	}, nil
}

// Root returns the absolute walk root.
func (w *Walker) Root() string {
	return w.root
}

// Walk lazily streams every entry reachable under the root, depth-first,
// without following symlinks. Order is unspecified. The channel is closed
// when the walk is exhausted or ctx is done. A directory that cannot be
// listed yields one Entry with Err set; the walk continues elsewhere.
func (w *Walker) Walk(ctx context.Context) <-chan Entry {
	out := make(chan Entry)

	go func() {
		defer close(out)
		w.walkDir(ctx, w.root, out)
	}()

	return out
}

func (w *Walker) walkDir(ctx context.Context, dir string, out chan<- Entry) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		relDir, rerr := filepath.Rel(w.root, dir)
		if rerr != nil {
			relDir = dir
		}
		select {
		case out <- Entry{RelPath: filepath.ToSlash(relDir), Kind: KindDir, Err: err}:
		case <-ctx.Done():
		}
		return
	}

	for _, entry := range entries {
		fullPath := filepath.Join(dir, entry.Name())

		relPath, err := filepath.Rel(w.root, fullPath)
		if err != nil {
			continue
		}
		relPath = filepath.ToSlash(relPath)

		if w.isExcluded(relPath) {
			continue
		}

		kind := kindOf(entry.Type())

		select {
		case out <- Entry{RelPath: relPath, Kind: kind}:
		case <-ctx.Done():
			return
		}

		if kind == KindDir {
			w.walkDir(ctx, fullPath, out)
		}
	}
}

// isExcluded checks if a path matches any exclude pattern
func (w *Walker) isExcluded(path string) bool {
	for _, pattern := range w.excludes {
		// Handle directory patterns (ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			if matched, _ := doublestar.Match(dirPattern, path); matched {
				return true
			}
			// Also check if any parent directory matches
			parts := strings.Split(path, "/")
			for i := 1; i <= len(parts); i++ {
				subPath := strings.Join(parts[:i], "/")
				if matched, _ := doublestar.Match(dirPattern, subPath); matched {
					return true
				}
			}
		} else {
			if matched, _ := doublestar.Match(pattern, path); matched {
				return true
			}
		}
	}
	return false
}
