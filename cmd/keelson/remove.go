package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/keelson-go/envelope-bridge/pkg/clickhouse"
	"github.com/keelson-go/envelope-bridge/pkg/data/clickhouse/envelopes"
	"github.com/keelson-go/envelope-bridge/pkg/utils"
)

func remove(c *cli.Context) error {
	ctx := c.Context
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer utils.SyncLogger(sugar) //nolint:errcheck // best-effort flush

	entityID := cfg.Key.EntityID

	chClient, err := clickhouse.New(ctx, cfg.ClickHouse, sugar)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	defer chClient.Close()

	repo, err := envelopes.NewRepository(ctx, chClient, cfg.ArchiveCfg.Table, nil)
	if err != nil {
		return fmt.Errorf("failed to create envelopes repository: %w", err)
	}
	if err := repo.DeleteByEntity(ctx, entityID); err != nil {
		return err
	}

	sugar.Infow("archived envelopes scheduled for removal", "entityId", entityID, "table", cfg.ArchiveCfg.Table)
	return nil
}
