package classify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	godigest "github.com/opencontainers/go-digest"

	"github.com/treeguard/backup-audit/internal/digest"
	"github.com/treeguard/backup-audit/internal/walker"
)

// Category is the audit outcome for one paired entry.
type Category string

const (
	CategoryDirectories     Category = "directories"
	CategorySymlinks        Category = "symlinks"
	CategoryContentMatch    Category = "content-match"
	CategoryContentMismatch Category = "content-mismatch"
	CategoryTypeMismatch    Category = "type-mismatch"
	CategoryMissingInTarget Category = "missing-in-target"
	CategoryMissingInSource Category = "missing-in-source"
	CategoryMissingInBoth   Category = "missing-in-both"
	CategoryUnreadable      Category = "unreadable"
	CategoryReadError       Category = "read-error"
	CategoryWalkError       Category = "walk-error"
)

// IsMatch reports whether the category is a silent success: no diagnostic
// record is emitted for it.
func (c Category) IsMatch() bool {
	return c == CategoryDirectories || c == CategorySymlinks || c == CategoryContentMatch
}

// Presence is the result of probing one side of a pair.
type Presence int

const (
	// Present means lstat succeeded and Kind is valid.
	Present Presence = iota
	// Absent means the entry does not exist on this side.
	Absent
	// Unreadable means the entry could not be probed for a reason other
	// than non-existence (permissions, I/O failure).
	Unreadable
)

// Side is one half of a ResolvedPair.
type Side struct {
	Path     string // absolute path under this side's root
	Presence Presence
	Kind     walker.Kind // valid only when Present
	Err      error       // reason when Absent or Unreadable
}

// ResolveSide probes path with lstat, never following symlinks.
func ResolveSide(path string) Side {
	info, err := os.Lstat(path)
	if err != nil {
		presence := Unreadable
		if errors.Is(err, os.ErrNotExist) {
			presence = Absent
		}
		return Side{Path: path, Presence: presence, Err: err}
	}

	kind := walker.KindFile
	if info.Mode()&os.ModeSymlink != 0 {
		kind = walker.KindSymlink
	} else if info.IsDir() {
		kind = walker.KindDir
	}
	return Side{Path: path, Presence: Present, Kind: kind}
}

// ResolvedPair is the same relative path probed under both roots.
type ResolvedPair struct {
	RelPath string
	Source  Side
	Target  Side
}

// Record is one immutable diagnostic finding, owned by the report sink
// after classification.
type Record struct {
	Category     Category
	RelPath      string
	SourcePath   string
	TargetPath   string
	SourceDigest godigest.Digest
	TargetDigest godigest.Digest
	Detail       string
}

// Classify applies the decision table to a resolved pair. For two regular
// files it digests both sides in full. The returned bool is false when the
// pair matched and no record is to be emitted.
func Classify(pair ResolvedPair) (Record, bool) {
	rec := Record{
		RelPath:    pair.RelPath,
		SourcePath: pair.Source.Path,
		TargetPath: pair.Target.Path,
	}

	src, tgt := pair.Source, pair.Target

	switch {
	case src.Presence != Present && tgt.Presence != Present:
		rec.Category = CategoryMissingInBoth
		rec.Detail = fmt.Sprintf("source: %v; target: %v", src.Err, tgt.Err)
		return rec, true

	case src.Presence != Present:
		if src.Presence == Unreadable {
			rec.Category = CategoryUnreadable
			rec.Detail = fmt.Sprintf("source: %v", src.Err)
			return rec, true
		}
		rec.Category = CategoryMissingInSource
		rec.Detail = src.Err.Error()
		return rec, true

	case tgt.Presence != Present:
		if tgt.Presence == Unreadable {
			rec.Category = CategoryUnreadable
			rec.Detail = fmt.Sprintf("target: %v", tgt.Err)
			return rec, true
		}
		rec.Category = CategoryMissingInTarget
		rec.Detail = tgt.Err.Error()
		return rec, true

	case src.Kind == walker.KindDir && tgt.Kind == walker.KindDir:
		rec.Category = CategoryDirectories
		return rec, false

	// Link targets are deliberately not read or compared.
	case src.Kind == walker.KindSymlink && tgt.Kind == walker.KindSymlink:
		rec.Category = CategorySymlinks
		return rec, false

	case src.Kind == walker.KindFile && tgt.Kind == walker.KindFile:
		return classifyContents(rec, src, tgt)

	default:
		rec.Category = CategoryTypeMismatch
		rec.Detail = fmt.Sprintf("source is %s, target is %s", kindName(src.Kind), kindName(tgt.Kind))
		return rec, true
	}
}

func classifyContents(rec Record, src, tgt Side) (Record, bool) {
	srcDigest, err := digest.FromFile(src.Path)
	if err != nil {
		rec.Category = CategoryReadError
		rec.Detail = fmt.Sprintf("source: %v", err)
		return rec, true
	}

	tgtDigest, err := digest.FromFile(tgt.Path)
	if err != nil {
		rec.Category = CategoryReadError
		rec.Detail = fmt.Sprintf("target: %v", err)
		return rec, true
	}

	rec.SourceDigest = srcDigest
	rec.TargetDigest = tgtDigest

	if srcDigest == tgtDigest {
		rec.Category = CategoryContentMatch
		return rec, false
	}

	rec.Category = CategoryContentMismatch
	return rec, true
}

func kindName(k walker.Kind) string {
	switch k {
	case walker.KindDir:
		return "directory"
	case walker.KindSymlink:
		return "symlink"
	default:
		return "regular file"
	}
}

// String renders the record as one self-describing diagnostic block. The
// category is implied by the message shape.
func (r Record) String() string {
	var b strings.Builder

	switch r.Category {
	case CategoryMissingInTarget:
		b.WriteString("Found missing entry in target\n")
	case CategoryMissingInSource:
		b.WriteString("Found missing entry in source\n")
	case CategoryMissingInBoth:
		b.WriteString("Found missing entry in source and target\n")
	case CategoryTypeMismatch:
		b.WriteString("Found mismatched entry types\n")
	case CategoryContentMismatch:
		b.WriteString("Found mismatched sha256 digests\n")
	case CategoryUnreadable:
		b.WriteString("Found unreadable entry\n")
	case CategoryReadError:
		b.WriteString("Failed to read entry contents\n")
	case CategoryWalkError:
		b.WriteString("Failed to list directory\n")
	default:
		fmt.Fprintf(&b, "Found %s\n", r.Category)
	}

	fmt.Fprintf(&b, "src=%s\n", r.SourcePath)
	if r.SourceDigest != "" {
		fmt.Fprintf(&b, "%s\n", r.SourceDigest)
	}
	fmt.Fprintf(&b, "tgt=%s\n", r.TargetPath)
	if r.TargetDigest != "" {
		fmt.Fprintf(&b, "%s\n", r.TargetDigest)
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, "reason: %s\n", r.Detail)
	}

	return b.String()
}
