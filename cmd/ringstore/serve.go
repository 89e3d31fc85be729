package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ringstore/ringstore/internal/cache"
	"github.com/ringstore/ringstore/internal/config"
	"github.com/ringstore/ringstore/internal/journal"
	"github.com/ringstore/ringstore/internal/metrics"
	"github.com/ringstore/ringstore/internal/ring"
	"github.com/ringstore/ringstore/internal/server"
	"github.com/ringstore/ringstore/internal/store"
	"github.com/ringstore/ringstore/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listenAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a ringstore node",
		Long: `Run a ringstore node: create the configured buckets, register the
configured ring nodes plus this one, and serve uploads and downloads over HTTP
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}

// node is a fully wired ringstore process.
type node struct {
	cfg       *config.ServerConfig
	ring      *ring.Ring
	cache     *cache.Cache[string, *store.Download]
	store     *store.Store
	collector *metrics.Collector
	server    *server.Server
	journal   journal.Sink
	recorder  *tracing.Recorder
}

func newNode(cfg *config.ServerConfig) (*node, error) {
	timeout, err := cfg.TransferTimeout()
	if err != nil {
		return nil, err
	}

	logs := journal.Dir(cfg.LogDir)
	cacheJournal, err := logs.Open("cache")
	if err != nil {
		return nil, fmt.Errorf("open cache journal: %w", err)
	}

	c := cache.New[string, *store.Download](cache.Config[*store.Download]{
		MaxSize:  cfg.Cache.MaxSize,
		TrimSize: cfg.Cache.TrimSize,
		Journal:  cacheJournal,
	})

	r := ring.New(cfg.Ring.Capacity)
	for _, id := range cfg.RingNodes() {
		if err := r.Register(&ring.Node{ID: id}); err != nil {
			_ = cacheJournal.Close()
			return nil, fmt.Errorf("register ring node %s: %w", id, err)
		}
	}

	var storeMetrics *store.Metrics
	var nodeMetrics *metrics.NodeMetrics
	if cfg.Metrics.IsEnabled() {
		storeMetrics = store.InitMetrics(metrics.Registry)
		nodeMetrics = metrics.InitMetrics(cfg.NodeID, Version)
	}

	st, err := store.New(store.Options{
		Root:                   cfg.DataDir,
		Journals:               logs,
		Cache:                  c,
		Metrics:                storeMetrics,
		MaxConcurrentTransfers: cfg.Transfers.MaxConcurrent,
		TransferTimeout:        timeout,
	})
	if err != nil {
		_ = cacheJournal.Close()
		return nil, err
	}
	for _, b := range cfg.Buckets {
		if _, err := st.CreateBucket(b.Name, b.Private); err != nil {
			_ = st.Close()
			_ = cacheJournal.Close()
			return nil, fmt.Errorf("create bucket %s: %w", b.Name, err)
		}
	}

	n := &node{cfg: cfg, ring: r, cache: c, store: st, journal: cacheJournal}

	srvCfg := server.Config{
		Store:          st,
		Ring:           r,
		Metrics:        nodeMetrics,
		NodeID:         cfg.NodeID,
		DefaultBucket:  cfg.Buckets[0].Name,
		MaxUploadBytes: cfg.Transfers.MaxUploadSize.Bytes(),
	}
	if nodeMetrics != nil {
		srvCfg.MetricsHandler = metrics.Handler()
		n.collector = metrics.NewCollector(nodeMetrics, metrics.CollectorConfig{Ring: r, Cache: c})
	}
	if cfg.Tracing.Enabled {
		if n.recorder, err = tracing.Start(cfg.Tracing.BufferSize.Bytes()); err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing")
		} else {
			log.Info().Msg("runtime tracing enabled")
			srvCfg.TraceHandler = n.recorder.Handler()
		}
	}
	n.server = server.New(srvCfg)
	return n, nil
}

func (n *node) Close() error {
	n.recorder.Stop()
	return errors.Join(n.store.Close(), n.journal.Close())
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	setupLogging(cfg.LogLevel)

	n, err := newNode(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n.collector != nil {
		interval, err := cfg.MetricsInterval()
		if err != nil {
			return err
		}
		if interval > 0 {
			go n.collector.Run(ctx, interval)
		}
	}

	srv := n.server.HTTPServer(cfg.Listen)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().
		Str("version", Version).
		Str("node", cfg.NodeID).
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Str("max_upload", cfg.Transfers.MaxUploadSize.String()).
		Int("ring_nodes", n.ring.Len()).
		Msg("ringstore node started")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
