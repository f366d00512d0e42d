package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/utils"
)

// maxLineSize bounds one stdin line in --lines mode.
const maxLineSize = 4 << 20

func publish(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer utils.SyncLogger(sugar) //nolint:errcheck // best-effort flush

	topic, err := cfg.publishTopic()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tr, err := openTransport(ctx, cfg, false, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", cfg.Transport, err)
	}
	defer tr.Close(context.WithoutCancel(ctx))

	// The memory bus has no other process to reach, so echo frames back locally.
	if cfg.Transport == transportMemory {
		echo := bridge.NewUncoverer(sugar, nil, bridge.NewJSONLinesSink(c.App.Writer, bridge.PayloadText), m)
		if err := tr.sub.Subscribe(ctx, topickey.MultiLevelWildcard, cfg.QoS, echo.Handle); err != nil {
			return err
		}
	}

	enc := bridge.NewEncloser(sugar, tr.pub, nil, bridge.PublishConfig{
		DefaultTopic: topic,
		QoS:          cfg.QoS,
		Retain:       cfg.Retain,
	}, m)

	return publishPayloads(ctx, enc, cfg, c.App.Reader, sugar)
}

// publishPayloads encloses --payload, all of stdin, or each stdin line.
func publishPayloads(ctx context.Context, enc *bridge.Encloser, cfg *Config, stdin io.Reader, log *zap.SugaredLogger) error {
	if cfg.Payload != "" {
		return enc.Enclose(ctx, "", cfg.Payload)
	}

	if !cfg.Lines {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		return enc.Enclose(ctx, "", data)
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	count := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := enc.Enclose(ctx, "", line); err != nil {
			return fmt.Errorf("line %d: %w", count+1, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	log.Infow("published", "count", count)
	return nil
}
