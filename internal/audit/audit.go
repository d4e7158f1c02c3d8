package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/treeguard/backup-audit/internal/classify"
	"github.com/treeguard/backup-audit/internal/report"
	"github.com/treeguard/backup-audit/internal/walker"
)

// Observer receives advisory progress signals from the worker pool. It is
// never required for correctness; a nil observer is valid. Status may be
// called concurrently from different workers, each identified by its fixed
// index 0..N-1.
type Observer interface {
	Status(worker int, relPath string)
	Done(relPath string)
}

// Options configures an audit run.
type Options struct {
	// Concurrency is the worker pool size; defaults to runtime.NumCPU().
	Concurrency int
	// Excludes are doublestar patterns matched against relative paths.
	Excludes []string
	Observer Observer
	Logger   *zap.Logger
}

// Auditor compares a source tree against a target tree and writes every
// divergence to the report sink. Both trees are read-only to the audit.
type Auditor struct {
	sourceRoot  string
	targetRoot  string
	walk        *walker.Walker
	sink        *report.Sink
	concurrency int
	excludes    []string
	observer    Observer
	log         *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an auditor over the two roots. The source root must be a
// readable directory; the target root is only probed per entry.
func New(sourceRoot, targetRoot string, sink *report.Sink, opts Options) (*Auditor, error) {
	w, err := walker.New(sourceRoot, opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}

	absTarget, err := filepath.Abs(targetRoot)
	if err != nil {
		return nil, fmt.Errorf("target root: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Auditor{
		sourceRoot:  w.Root(),
		targetRoot:  absTarget,
		walk:        w,
		sink:        sink,
		concurrency: concurrency,
		excludes:    opts.Excludes,
		observer:    opts.Observer,
		log:         log,
		seen:        make(map[string]struct{}),
	}, nil
}

// Run performs the full bilateral audit: a forward pass pairing every
// source entry against the target, then a reverse pass over the target to
// find entries the source never had. It returns the number of findings
// once both walks are exhausted and all dispatched comparisons have
// completed. The only errors returned are those that make further
// auditing pointless: a failed report write or a cancelled context.
func (a *Auditor) Run(ctx context.Context) (int, error) {
	a.log.Debug("audit starting",
		zap.String("source", a.sourceRoot),
		zap.String("target", a.targetRoot),
		zap.Int("workers", a.concurrency))

	if err := a.runPool(ctx, a.walk.Walk(ctx), a.compareForward); err != nil {
		return a.sink.Total(), err
	}

	if err := a.reversePass(ctx); err != nil {
		return a.sink.Total(), err
	}

	a.log.Debug("audit complete", zap.Int("findings", a.sink.Total()))
	return a.sink.Total(), nil
}

// reversePass walks the target tree and reports entries that the forward
// pass never paired. A missing or unreadable target root is not an error
// here: the forward pass already recorded every entry as missing.
func (a *Auditor) reversePass(ctx context.Context) error {
	reverse, err := walker.New(a.targetRoot, a.excludes)
	if err != nil {
		a.log.Debug("skipping reverse pass", zap.Error(err))
		return nil
	}
	return a.runPool(ctx, reverse.Walk(ctx), a.compareReverse)
}

// runPool drains the walk channel with a fixed pool of workers. Each
// relative path is delivered to exactly one worker; the pool size bounds
// the number of in-flight comparisons and open file handles.
func (a *Auditor) runPool(ctx context.Context, entries <-chan walker.Entry, compare func(walker.Entry) (classify.Record, bool)) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < a.concurrency; i++ {
		worker := i
		g.Go(func() error {
			return a.runWorker(ctx, worker, entries, compare)
		})
	}
	return g.Wait()
}

func (a *Auditor) runWorker(ctx context.Context, worker int, entries <-chan walker.Entry, compare func(walker.Entry) (classify.Record, bool)) error {
	for entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if a.observer != nil {
			a.observer.Status(worker, entry.RelPath)
		}

		rec, emit := compare(entry)
		if emit {
			if err := a.sink.Record(rec); err != nil {
				return err
			}
		}

		if a.observer != nil {
			a.observer.Done(entry.RelPath)
		}
	}
	return nil
}

// compareForward resolves one source-walked entry against both roots and
// classifies the pair. Walk failures short-circuit: the subtree was never
// enumerated, so there is no pair to resolve.
func (a *Auditor) compareForward(entry walker.Entry) (classify.Record, bool) {
	a.markSeen(entry.RelPath)

	sourcePath := filepath.Join(a.sourceRoot, filepath.FromSlash(entry.RelPath))
	targetPath := filepath.Join(a.targetRoot, filepath.FromSlash(entry.RelPath))

	if entry.Err != nil {
		return classify.Record{
			Category:   classify.CategoryWalkError,
			RelPath:    entry.RelPath,
			SourcePath: sourcePath,
			TargetPath: targetPath,
			Detail:     entry.Err.Error(),
		}, true
	}

	pair := classify.ResolvedPair{
		RelPath: entry.RelPath,
		Source:  classify.ResolveSide(sourcePath),
		Target:  classify.ResolveSide(targetPath),
	}

	return classify.Classify(pair)
}

// compareReverse handles target-walked entries. Anything the forward pass
// already paired is skipped, so no relative path is processed twice.
func (a *Auditor) compareReverse(entry walker.Entry) (classify.Record, bool) {
	if a.wasSeen(entry.RelPath) {
		return classify.Record{}, false
	}

	sourcePath := filepath.Join(a.sourceRoot, filepath.FromSlash(entry.RelPath))
	targetPath := filepath.Join(a.targetRoot, filepath.FromSlash(entry.RelPath))

	if entry.Err != nil {
		return classify.Record{
			Category:   classify.CategoryWalkError,
			RelPath:    entry.RelPath,
			SourcePath: sourcePath,
			TargetPath: targetPath,
			Detail:     entry.Err.Error(),
		}, true
	}

	pair := classify.ResolvedPair{
		RelPath: entry.RelPath,
		Source:  classify.ResolveSide(sourcePath),
		Target:  classify.ResolveSide(targetPath),
	}

	return classify.Classify(pair)
}

func (a *Auditor) markSeen(relPath string) {
	a.mu.Lock()
	a.seen[relPath] = struct{}{}
	a.mu.Unlock()
}

func (a *Auditor) wasSeen(relPath string) bool {
	a.mu.Lock()
	_, ok := a.seen[relPath]
	a.mu.Unlock()
	return ok
}
