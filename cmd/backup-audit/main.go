package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/treeguard/backup-audit/internal/audit"
	"github.com/treeguard/backup-audit/internal/logging"
	"github.com/treeguard/backup-audit/internal/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	sourceDir   string
	targetDir   string
	outputFile  string
	excludes    []string
	concurrency int
	quiet       bool
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backup-audit",
		Short: "Audit a backup tree against its source using SHA-256 digests",
		Long: `backup-audit walks a source directory tree and verifies that a target
(backup) tree faithfully reproduces it: every entry is paired by relative
path and checked for presence, type, and byte-identical content.

The audit is read-only on both trees. Findings are written to the output
file; an empty output file means the trees match.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVarP(&sourceDir, "source", "s", "", "source directory (required)")
	rootCmd.Flags().StringVarP(&targetDir, "target", "t", "", "target directory (required)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output filename (required)")
	rootCmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of concurrent comparisons (default: CPU count)")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress progress output")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf("============\nBackup Auditor %s\n============\n\n", version)
}

func run(cmd *cobra.Command, args []string) error {
	printBanner()

	// Missing required options show usage and exit without auditing.
	if sourceDir == "" || targetDir == "" || outputFile == "" {
		return cmd.Usage()
	}

	sourceDir = strings.TrimSuffix(sourceDir, "/")
	targetDir = strings.TrimSuffix(targetDir, "/")

	logger, err := logging.New(verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting audit",
		zap.String("source", sourceDir),
		zap.String("target", targetDir),
		zap.String("output", outputFile))

	sink, err := report.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create report sink: %w", err)
	}

	var observer audit.Observer
	if !quiet {
		observer = &progressPrinter{}
	}

	auditor, err := audit.New(sourceDir, targetDir, sink, audit.Options{
		Concurrency: concurrency,
		Excludes:    excludes,
		Observer:    observer,
		Logger:      logger,
	})
	if err != nil {
		sink.Close()
		return err
	}

	start := time.Now()
	findings, runErr := auditor.Run(context.Background())

	if p, ok := observer.(*progressPrinter); ok {
		p.finish()
	}

	if err := sink.Close(); err != nil {
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return fmt.Errorf("audit failed: %w", runErr)
	}

	logger.Info("audit complete",
		zap.Int("findings", findings),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	return nil
}

// progressPrinter is a minimal advisory observer: a single status line on
// stderr counting completed comparisons. Rendering detail lives here, not
// in the engine.
type progressPrinter struct {
	done atomic.Int64
}

func (p *progressPrinter) Status(worker int, relPath string) {}

func (p *progressPrinter) Done(relPath string) {
	n := p.done.Add(1)
	if n%100 == 0 {
		fmt.Fprintf(os.Stderr, "\rcompared %d entries", n)
	}
}

func (p *progressPrinter) finish() {
	if n := p.done.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "\rcompared %d entries\n", n)
	}
}
