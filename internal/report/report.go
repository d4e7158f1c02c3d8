package report

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/treeguard/backup-audit/internal/classify"
)

// Sink serializes diagnostic records from concurrent workers into one
// output file. Writes are synchronous: a record accepted by Record is in
// the file before the call returns. No ordering across workers is
// promised, only that records never interleave.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	counts map[classify.Category]int
	total  int
}

// Create opens the output file, truncating any previous contents. Failure
// here is fatal to the run.
func Create(path string) (*Sink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &Sink{
		file:   file,
		counts: make(map[classify.Category]int),
	}, nil
}

// Record appends one diagnostic block. Safe for concurrent use.
func (s *Sink) Record(rec classify.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.file, "%s\n", rec.String()); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	s.counts[rec.Category]++
	s.total++
	return nil
}

// Total returns the number of records accepted so far.
func (s *Sink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Counts returns a copy of the per-category record counts.
func (s *Sink) Counts() map[classify.Category]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[classify.Category]int, len(s.counts))
	for c, n := range s.counts {
		out[c] = n
	}
	return out
}

// Close appends a trailing summary of the findings, syncs, and closes the
// file. An empty audit produces an empty file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total > 0 {
		categories := make([]string, 0, len(s.counts))
		for c := range s.counts {
			categories = append(categories, string(c))
		}
		sort.Strings(categories)

		if _, err := fmt.Fprintf(s.file, "=== Summary: %d findings ===\n", s.total); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		for _, c := range categories {
			if _, err := fmt.Fprintf(s.file, "%s: %d\n", c, s.counts[classify.Category(c)]); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync output file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
