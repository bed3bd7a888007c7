// Package pipeline runs one extracted invoice through the full decision
// sequence: vendor resolution, price comparison, math and totals checks,
// the deterministic decision, the optional advisory pass, and persistence.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stackbirds/invoiceguard/internal/advisory"
	"github.com/stackbirds/invoiceguard/internal/compare"
	"github.com/stackbirds/invoiceguard/internal/config"
	"github.com/stackbirds/invoiceguard/internal/decide"
	"github.com/stackbirds/invoiceguard/internal/history"
	"github.com/stackbirds/invoiceguard/internal/match"
	"github.com/stackbirds/invoiceguard/internal/model"
	"github.com/stackbirds/invoiceguard/internal/report"
	"github.com/stackbirds/invoiceguard/internal/store"
)

// Processor wires the decision phases together. Every component it holds is
// safe for concurrent use, so one Processor serves a whole batch.
type Processor struct {
	resolver   *match.Resolver
	comparator *compare.Comparator
	engine     *decide.Engine
	analyzer   *advisory.Analyzer
	store      store.Store
}

// New assembles a processor over the loaded history table. A nil store runs
// the pipeline stateless: no learned-history fallback and no persistence. A
// nil analyzer skips the advisory pass; the record then carries no advisory
// section at all rather than a fallback one.
func New(cfg *config.Config, table *history.Table, st store.Store, analyzer *advisory.Analyzer) *Processor {
	var learned compare.LearnedSource
	if st != nil {
		learned = st
	}
	return &Processor{
		resolver:   match.NewResolver(table),
		comparator: compare.NewComparator(table, learned, cfg.Compare),
		engine:     decide.NewEngine(cfg.Decide),
		analyzer:   analyzer,
		store:      st,
	}
}

// Process runs one extraction payload end to end and returns the completed
// decision record. Every phase before persistence is total: it always yields
// a decision, flagged or approved, no matter how broken the invoice is. When
// persistence fails the completed record is still returned alongside the
// error so callers can dead-letter it or emit the report anyway.
func (p *Processor) Process(ctx context.Context, ex model.ExtractionResult, sourceFile string) (model.DecisionRecord, error) {
	log := zap.L().With(
		zap.String("invoice", ex.Invoice.Number),
		zap.String("source", sourceFile),
	)
	log.Info("pipeline: processing invoice", zap.Int("line_items", len(ex.Invoice.LineItems)))
	start := time.Now()

	trackPhase := func(name string, fn func() error) error {
		phaseStart := time.Now()
		err := fn()
		duration := time.Since(phaseStart).Milliseconds()
		if err != nil {
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(err))
			return err
		}
		log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration))
		return nil
	}

	var vm model.VendorMatch
	_ = trackPhase("resolve", func() error {
		vm = p.resolver.ResolveExtraction(ex)
		if !vm.Matched() {
			log.Warn("pipeline: vendor not recognized",
				zap.String("vendor_name", ex.Invoice.VendorName))
		}
		return nil
	})

	var verdicts []model.ComparisonVerdict
	_ = trackPhase("compare", func() error {
		verdicts = p.comparator.Compare(ctx, vm.VendorID, ex.Invoice.LineItems)
		return nil
	})

	var findings []model.MathFinding
	var recon model.ReconcileStatus
	_ = trackPhase("reconcile", func() error {
		findings = p.comparator.MathFindings(ex.Invoice.LineItems)
		recon = p.comparator.Reconcile(ex.Invoice, vm.VendorID)
		return nil
	})

	var dec model.Decision
	_ = trackPhase("decide", func() error {
		dec = p.engine.Decide(decide.Input{
			Match:     &vm,
			Verdicts:  verdicts,
			Math:      findings,
			Reconcile: recon,
			Warnings:  ex.Warnings,
		})
		return nil
	})

	var adv *model.AdvisoryRecord
	if p.analyzer != nil {
		_ = trackPhase("advisory", func() error {
			rec := p.analyzer.Analyze(ctx, advisory.Input{
				Invoice:   ex.Invoice,
				Match:     &vm,
				Verdicts:  verdicts,
				Findings:  findings,
				Reconcile: recon,
				Decision:  dec,
				Stats:     p.historyStats(ctx),
			})
			adv = &rec
			return nil
		})
	}

	rec := report.Build(report.Input{
		SourceFile: sourceFile,
		Extraction: ex,
		Match:      &vm,
		Verdicts:   verdicts,
		Findings:   findings,
		Reconcile:  recon,
		Decision:   dec,
		Advisory:   adv,
	})

	if p.store != nil {
		if err := trackPhase("persist", func() error {
			return p.store.SaveDecision(ctx, &rec)
		}); err != nil {
			return rec, eris.Wrap(err, "pipeline: persist decision")
		}
	}

	log.Info("pipeline: invoice processed",
		zap.String("status", string(dec.Status)),
		zap.Strings("reasons", dec.ReasonCodes),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return rec, nil
}

// historyStats is best effort context for the advisory prompt; a failed read
// must not block the pass.
func (p *Processor) historyStats(ctx context.Context) model.HistoryStats {
	if p.store == nil {
		return model.HistoryStats{}
	}
	stats, err := p.store.Stats(ctx)
	if err != nil {
		zap.L().Warn("pipeline: history stats unavailable", zap.Error(err))
		return model.HistoryStats{}
	}
	return stats
}
