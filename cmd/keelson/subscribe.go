package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
	"github.com/keelson-go/envelope-bridge/pkg/clickhouse"
	"github.com/keelson-go/envelope-bridge/pkg/data/clickhouse/envelopes"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/utils"
)

func subscribe(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer utils.SyncLogger(sugar) //nolint:errcheck // best-effort flush

	filter, err := cfg.subscribeFilter()
	if err != nil {
		return err
	}

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"transport", cfg.Transport,
		"filter", filter,
		"qos", cfg.QoS,
		"payloadFormat", cfg.PayloadFormat,
		"dlqTopic", cfg.DLQTopic,
		"archive", cfg.Archive,
		"clickhouseHosts", cfg.ClickHouse.Hosts,
		"archiveTable", cfg.ArchiveCfg.Table,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"instance", cfg.Labels.Instance,
		"environment", cfg.Labels.Environment,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, cfg.Labels)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tr, err := openTransport(ctx, cfg, true, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", cfg.Transport, err)
	}
	defer tr.Close(context.WithoutCancel(ctx))

	var (
		sinks       bridge.MultiSink
		serverOpts  []metrics.ServerOption
		batchWriter *envelopes.BatchWriter
	)
	if !cfg.Quiet {
		sinks = append(sinks, bridge.NewJSONLinesSink(c.App.Writer, cfg.PayloadFormat))
	}
	if tr.health != nil {
		serverOpts = append(serverOpts, metrics.WithHealthCheck(cfg.Transport, tr.health))
	}

	if cfg.Archive {
		chClient, err := clickhouse.New(ctx, cfg.ClickHouse, sugar)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		defer chClient.Close()

		batchWriter = envelopes.NewBatchWriter(ctx, chClient.Conn(), sugar, cfg.ArchiveCfg, m)
		repo, err := envelopes.NewRepository(ctx, chClient, cfg.ArchiveCfg.Table, batchWriter)
		if err != nil {
			_ = batchWriter.Close(ctx)
			return fmt.Errorf("failed to create envelopes repository: %w", err)
		}
		sugar.Infow("archive table ready", "table", cfg.ArchiveCfg.Table)
		sinks = append(sinks, envelopes.Sink(repo))

		serverOpts = append(serverOpts, metrics.WithHealthCheck("clickhouse", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return chClient.Ping(pingCtx)
		}))
	}

	var opts []bridge.UncovererOption
	if cfg.DLQTopic != "" {
		opts = append(opts, bridge.WithDeadLetter(tr.pub, cfg.DLQTopic))
	}
	uncoverer := bridge.NewUncoverer(sugar, nil, sinks, m, opts...)

	if err := tr.sub.Subscribe(ctx, filter, cfg.QoS, uncoverer.Handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}

	p := &pipeline{
		log:           sugar,
		transport:     tr,
		metricsServer: metrics.NewServer(cfg.MetricsAddr(), registry, serverOpts...),
	}
	if batchWriter != nil {
		p.archive = batchWriter
	}
	sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	return p.run(ctx)
}
