package classify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treeguard/backup-audit/internal/walker"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func absentSide(path string) Side {
	return Side{Path: path, Presence: Absent, Err: os.ErrNotExist}
}

func presentFile(path string) Side {
	return Side{Path: path, Presence: Present, Kind: walker.KindFile}
}

func TestResolveSide(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "f.txt", "x")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link))

	tests := []struct {
		name         string
		path         string
		wantPresence Presence
		wantKind     walker.Kind
	}{
		{"regular file", file, Present, walker.KindFile},
		{"directory", dir, Present, walker.KindDir},
		{"symlink not followed", link, Present, walker.KindSymlink},
		{"missing", filepath.Join(dir, "nope"), Absent, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			side := ResolveSide(tt.path)
			assert.Equal(t, tt.wantPresence, side.Presence)
			if tt.wantPresence == Present {
				assert.Equal(t, tt.wantKind, side.Kind)
			} else {
				assert.Error(t, side.Err)
			}
		})
	}
}

func TestClassifyDecisionTable(t *testing.T) {
	dir := t.TempDir()
	srcFoo := writeFile(t, dir, "src/c.txt", "foo")
	tgtBar := writeFile(t, dir, "tgt/c.txt", "bar")
	srcHello := writeFile(t, dir, "src/a.txt", "hello")
	tgtHello := writeFile(t, dir, "tgt/a.txt", "hello")

	srcDir := filepath.Join(dir, "src")
	tgtDir := filepath.Join(dir, "tgt")

	tests := []struct {
		name         string
		pair         ResolvedPair
		wantEmit     bool
		wantCategory Category
	}{
		{
			name: "missing in both",
			pair: ResolvedPair{RelPath: "x", Source: absentSide("/s/x"), Target: absentSide("/t/x")},

			wantEmit:     true,
			wantCategory: CategoryMissingInBoth,
		},
		{
			name:         "missing in source",
			pair:         ResolvedPair{RelPath: "x", Source: absentSide("/s/x"), Target: presentFile("/t/x")},
			wantEmit:     true,
			wantCategory: CategoryMissingInSource,
		},
		{
			name:         "missing in target",
			pair:         ResolvedPair{RelPath: "x", Source: presentFile("/s/x"), Target: absentSide("/t/x")},
			wantEmit:     true,
			wantCategory: CategoryMissingInTarget,
		},
		{
			name: "unreadable source is not missing",
			pair: ResolvedPair{
				RelPath: "x",
				Source:  Side{Path: "/s/x", Presence: Unreadable, Err: errors.New("permission denied")},
				Target:  presentFile("/t/x"),
			},
			wantEmit:     true,
			wantCategory: CategoryUnreadable,
		},
		{
			name: "both directories",
			pair: ResolvedPair{
				RelPath: ".",
				Source:  ResolveSide(srcDir),
				Target:  ResolveSide(tgtDir),
			},
			wantEmit:     false,
			wantCategory: CategoryDirectories,
		},
		{
			name: "type mismatch",
			pair: ResolvedPair{
				RelPath: "x",
				Source:  Side{Path: "/s/x", Presence: Present, Kind: walker.KindDir},
				Target:  Side{Path: "/t/x", Presence: Present, Kind: walker.KindFile},
			},
			wantEmit:     true,
			wantCategory: CategoryTypeMismatch,
		},
		{
			name: "content match",
			pair: ResolvedPair{
				RelPath: "a.txt",
				Source:  ResolveSide(srcHello),
				Target:  ResolveSide(tgtHello),
			},
			wantEmit:     false,
			wantCategory: CategoryContentMatch,
		},
		{
			name: "content mismatch",
			pair: ResolvedPair{
				RelPath: "c.txt",
				Source:  ResolveSide(srcFoo),
				Target:  ResolveSide(tgtBar),
			},
			wantEmit:     true,
			wantCategory: CategoryContentMismatch,
		},
		{
			name: "read error after successful stat",
			pair: ResolvedPair{
				RelPath: "gone.txt",
				Source:  presentFile(filepath.Join(dir, "src", "gone.txt")),
				Target:  ResolveSide(tgtHello),
			},
			wantEmit:     true,
			wantCategory: CategoryReadError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, emit := Classify(tt.pair)
			assert.Equal(t, tt.wantEmit, emit)
			assert.Equal(t, tt.wantCategory, rec.Category)
		})
	}
}

func TestClassifySymlinksIgnoresLinkTargets(t *testing.T) {
	dir := t.TempDir()
	srcLink := filepath.Join(dir, "src-link")
	tgtLink := filepath.Join(dir, "tgt-link")
	require.NoError(t, os.Symlink("/somewhere", srcLink))
	require.NoError(t, os.Symlink("/somewhere-else", tgtLink))

	rec, emit := Classify(ResolvedPair{
		RelPath: "link",
		Source:  ResolveSide(srcLink),
		Target:  ResolveSide(tgtLink),
	})
	assert.False(t, emit)
	assert.Equal(t, CategorySymlinks, rec.Category)
}

func TestContentMismatchCarriesBothDigests(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src/c.txt", "foo")
	tgt := writeFile(t, dir, "tgt/c.txt", "bar")

	rec, emit := Classify(ResolvedPair{
		RelPath: "c.txt",
		Source:  ResolveSide(src),
		Target:  ResolveSide(tgt),
	})
	require.True(t, emit)
	assert.NotEmpty(t, rec.SourceDigest)
	assert.NotEmpty(t, rec.TargetDigest)
	assert.NotEqual(t, rec.SourceDigest, rec.TargetDigest)

	out := rec.String()
	assert.Contains(t, out, "Found mismatched sha256 digests")
	assert.Contains(t, out, rec.SourceDigest.String())
	assert.Contains(t, out, rec.TargetDigest.String())
}

func TestRecordStringShapes(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{CategoryMissingInTarget, "Found missing entry in target"},
		{CategoryMissingInSource, "Found missing entry in source"},
		{CategoryMissingInBoth, "Found missing entry in source and target"},
		{CategoryTypeMismatch, "Found mismatched entry types"},
		{CategoryUnreadable, "Found unreadable entry"},
		{CategoryReadError, "Failed to read entry contents"},
		{CategoryWalkError, "Failed to list directory"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			rec := Record{
				Category:   tt.category,
				RelPath:    "some/path",
				SourcePath: "/src/some/path",
				TargetPath: "/tgt/some/path",
				Detail:     "why",
			}
			out := rec.String()
			assert.True(t, strings.HasPrefix(out, tt.want), "got %q", out)
			assert.Contains(t, out, "src=/src/some/path")
			assert.Contains(t, out, "tgt=/tgt/some/path")
			assert.Contains(t, out, "reason: why")
		})
	}
}
