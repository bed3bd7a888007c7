package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stackbirds/invoiceguard/internal/advisory"
	"github.com/stackbirds/invoiceguard/internal/history"
	"github.com/stackbirds/invoiceguard/internal/pipeline"
	"github.com/stackbirds/invoiceguard/internal/store"
	"github.com/stackbirds/invoiceguard/pkg/anthropic"
)

// processorEnv holds the opened store, the loaded seed table, and the
// assembled pipeline shared by the process and serve commands.
type processorEnv struct {
	Store     store.Store
	Table     *history.Table
	Processor *pipeline.Processor
}

// Close releases resources held by the environment.
func (e *processorEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, loads the seed table, and assembles the decision
// pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context) (*processorEnv, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	table, err := history.Load(cfg.History.SeedPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load history seed")
	}
	vendors, items, observations := table.Counts()
	zap.L().Info("history table loaded",
		zap.String("version", table.Version()),
		zap.Int("vendors", vendors),
		zap.Int("items", items),
		zap.Int("observations", observations),
	)

	var analyzer *advisory.Analyzer
	if cfg.Advisory.Enabled {
		var client anthropic.Client
		if cfg.Anthropic.Key != "" {
			client = anthropic.NewClient(cfg.Anthropic.Key)
		} else {
			zap.L().Warn("INVOICEGUARD_ANTHROPIC_KEY not set, advisory analysis will be skipped")
		}
		analyzer = advisory.NewAnalyzer(client, cfg.Advisory, cfg.Anthropic.Model)
	}

	return &processorEnv{
		Store:     st,
		Table:     table,
		Processor: pipeline.New(cfg, table, st, analyzer),
	}, nil
}
