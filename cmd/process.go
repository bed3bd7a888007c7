package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/internal/report"
	"github.com/stackbirds/invoiceguard/internal/resilience"
)

var processOut string

var processCmd = &cobra.Command{
	Use:   "process <file-or-dir>",
	Short: "Run extracted invoices through the decision pipeline",
	Long:  "Reads extraction payloads (JSON), decides each invoice, and writes <name>.result.json, <name>.report.txt, and <name>.audit.txt next to the input or under --out. A directory input is processed as a batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("process"); err != nil {
			return err
		}
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		input := args[0]
		info, err := os.Stat(input)
		if err != nil {
			return eris.Wrapf(err, "process: stat %s", input)
		}

		if !info.IsDir() {
			outDir, err := resolveOutDir(filepath.Dir(input))
			if err != nil {
				return err
			}
			return processOne(ctx, env.Processor.Process, input, outDir)
		}

		outDir, err := resolveOutDir(input)
		if err != nil {
			return err
		}
		inputs, err := collectInputs(input)
		if err != nil {
			return err
		}
		return runBatch(ctx, env.Processor.Process, inputs, cfg.Batch.MaxConcurrentInvoices, outDir)
	},
}

func init() {
	processCmd.Flags().StringVar(&processOut, "out", "", "output directory (default: alongside the input)")
	rootCmd.AddCommand(processCmd)
}

// processFunc is the callback signature for deciding one extraction payload.
type processFunc func(ctx context.Context, ex model.ExtractionResult, sourceFile string) (model.DecisionRecord, error)

// processOne decides a single invoice file and prints the record to stdout.
// Unlike batch mode, every failure surfaces as a command error.
func processOne(ctx context.Context, process processFunc, path, outDir string) error {
	ex, err := readExtraction(path)
	if err != nil {
		return err
	}

	rec, err := process(ctx, ex, filepath.Base(path))
	if err != nil {
		return err
	}
	if err := writeOutputs(outDir, path, rec); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// runBatch decides the inputs concurrently. Individual failures never abort
// the batch; they are collected into <outDir>/dlq.json for a later retry.
func runBatch(ctx context.Context, process processFunc, inputs []string, concurrency int, outDir string) error {
	if len(inputs) == 0 {
		zap.L().Info("no extraction files found")
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("invoices", len(inputs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, flagged, failed atomic.Int64
	var dlqMu sync.Mutex
	var dlq []resilience.DLQEntry

	deadLetter := func(path, invoice, phase string, cause error) {
		now := time.Now().UTC()
		dlqMu.Lock()
		defer dlqMu.Unlock()
		dlq = append(dlq, resilience.DLQEntry{
			ID:            uuid.NewString(),
			Path:          path,
			InvoiceNumber: invoice,
			Error:         cause.Error(),
			ErrorType:     resilience.ClassifyError(cause),
			FailedPhase:   phase,
			MaxRetries:    3,
			CreatedAt:     now,
			LastFailedAt:  now,
		})
	}

	for _, path := range inputs {
		g.Go(func() error {
			log := zap.L().With(zap.String("file", path))

			ex, err := readExtraction(path)
			if err != nil {
				failed.Add(1)
				log.Error("extraction payload unreadable", zap.Error(err))
				deadLetter(path, "", "read", err)
				return nil // don't abort batch on individual failure
			}

			rec, err := process(gctx, ex, filepath.Base(path))
			if err != nil {
				failed.Add(1)
				log.Error("processing failed", zap.Error(err))
				deadLetter(path, ex.Invoice.Number, "persist", err)
				// The record is still complete; fall through and emit it.
			} else if rec.Decision.Flagged() {
				flagged.Add(1)
			} else {
				succeeded.Add(1)
			}

			if emitErr := writeOutputs(outDir, path, rec); emitErr != nil {
				log.Error("writing outputs failed", zap.Error(emitErr))
				deadLetter(path, ex.Invoice.Number, "emit", emitErr)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "process: batch")
	}

	if len(dlq) > 0 {
		if err := writeDLQ(outDir, dlq); err != nil {
			return err
		}
	}

	zap.L().Info("batch complete",
		zap.Int64("approved", succeeded.Load()),
		zap.Int64("flagged", flagged.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int("dead_lettered", len(dlq)),
	)
	return nil
}

// collectInputs lists extraction payloads in dir, skipping this command's own
// outputs from earlier runs.
func collectInputs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, eris.Wrapf(err, "process: list %s", dir)
	}
	inputs := matches[:0]
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.HasSuffix(base, ".result.json") || base == "dlq.json" {
			continue
		}
		inputs = append(inputs, m)
	}
	sort.Strings(inputs)
	return inputs, nil
}

func readExtraction(path string) (model.ExtractionResult, error) {
	var ex model.ExtractionResult
	data, err := os.ReadFile(path)
	if err != nil {
		return ex, eris.Wrapf(err, "process: read %s", path)
	}
	if err := json.Unmarshal(data, &ex); err != nil {
		return ex, eris.Wrapf(err, "process: parse extraction %s", path)
	}
	return ex, nil
}

// writeOutputs emits the machine result plus the two human documents for one
// decided invoice.
func writeOutputs(outDir, srcPath string, rec model.DecisionRecord) error {
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))

	resultJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "process: marshal result for %s", base)
	}
	outputs := map[string][]byte{
		base + ".result.json": append(resultJSON, '\n'),
		base + ".report.txt":  []byte(report.Render(rec)),
		base + ".audit.txt":   []byte(report.Audit(rec)),
	}
	for name, data := range outputs {
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0644); err != nil {
			return eris.Wrapf(err, "process: write %s", name)
		}
	}
	return nil
}

func writeDLQ(outDir string, entries []resilience.DLQEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "process: marshal dlq")
	}
	path := filepath.Join(outDir, "dlq.json")
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return eris.Wrapf(err, "process: write %s", path)
	}
	zap.L().Warn("dead letter queue written",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func resolveOutDir(fallback string) (string, error) {
	if processOut == "" {
		return fallback, nil
	}
	if err := os.MkdirAll(processOut, 0755); err != nil {
		return "", eris.Wrapf(err, "process: create output dir %s", processOut)
	}
	return processOut, nil
}
