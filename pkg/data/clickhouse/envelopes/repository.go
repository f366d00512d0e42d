// Package envelopes archives uncovered envelopes in ClickHouse.
package envelopes

import (
	"context"
	"errors"
	"fmt"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
	"github.com/keelson-go/envelope-bridge/pkg/clickhouse"
)

// Repository writes and removes archived envelopes.
type Repository interface {
	CreateTableIfNotExists(ctx context.Context) error
	Write(ctx context.Context, row *Row) error
	DeleteByEntity(ctx context.Context, entityID string) error
}

type repository struct {
	client    clickhouse.Client
	tableName string
	writer    *BatchWriter // nil means direct inserts
}

// NewRepository creates the table if needed. Writes go through writer when it is
// set and are inserted one by one otherwise.
func NewRepository(ctx context.Context, client clickhouse.Client, tableName string, writer *BatchWriter) (Repository, error) {
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	repo := &repository{
		client:    client,
		tableName: tableName,
		writer:    writer,
	}
	if err := repo.CreateTableIfNotExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize envelopes table: %w", err)
	}
	return repo, nil
}

func (r *repository) CreateTableIfNotExists(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, CreateTableQuery(r.tableName)); err != nil {
		return fmt.Errorf("failed to create envelopes table: %w", err)
	}
	return nil
}

func (r *repository) Write(ctx context.Context, row *Row) error {
	if r.writer != nil {
		return r.writer.Add(ctx, row)
	}
	if err := r.client.Conn().Exec(ctx, InsertQuery(r.tableName), row.values()...); err != nil {
		return fmt.Errorf("failed to insert envelope %s: %w", row.ID, err)
	}
	return nil
}

// DeleteByEntity issues an asynchronous mutation; rows may stay visible until
// ClickHouse applies it.
func (r *repository) DeleteByEntity(ctx context.Context, entityID string) error {
	if entityID == "" {
		return errors.New("entity id is required")
	}
	if err := r.client.Conn().Exec(ctx, DeleteByEntityQuery(r.tableName), entityID); err != nil {
		return fmt.Errorf("failed to delete envelopes of entity %s: %w", entityID, err)
	}
	return nil
}

// Sink archives each delivery through repo.
func Sink(repo Repository) bridge.Sink {
	return bridge.SinkFunc(func(ctx context.Context, d bridge.Delivery) error {
		return repo.Write(ctx, RowFromDelivery(d))
	})
}
