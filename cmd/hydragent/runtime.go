package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"hydragent/internal/agent"
	"hydragent/internal/config"
	"hydragent/internal/graph"
	"hydragent/internal/link"
	"hydragent/internal/sync"
	"hydragent/internal/transport"
	"hydragent/internal/vocab"
)

// runtime bundles the wired-up components a command operates on.
type runtime struct {
	cfg      *config.Config
	logger   *log.Logger
	store    *graph.Store
	adapter  *graph.Adapter
	engine   *sync.Engine
	resolver *link.Resolver
	client   *transport.Client
	agent    *agent.Agent
}

// newLogger builds the process logger, tee'ing to a rotated file when one is
// configured.
func newLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	return log.New(out, "[hydragent] ", log.LstdFlags)
}

// openRuntime loads configuration and wires the store, engine, resolver and
// agent together. The caller MUST call close() when done.
func openRuntime() (*runtime, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)

	store, err := graph.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	api, err := vocab.LoadFile(cfg.VocabFile)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	adapter := graph.NewAdapter(store, logger)
	engine := sync.New(adapter, vocab.NewIndex(api), logger)
	client := transport.NewClient()
	resolver := link.NewResolver(engine, adapter, client, logger)

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		adapter:  adapter,
		engine:   engine,
		resolver: resolver,
		client:   client,
		agent:    agent.New(engine, resolver, client, logger),
	}

	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Printf("Error closing store: %v", err)
		}
	}
	return rt, closeFn, nil
}
