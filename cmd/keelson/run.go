package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

const shutdownTimeout = 15 * time.Second

// archiveCloser flushes and stops the archive writer.
type archiveCloser interface {
	Close(ctx context.Context) error
}

// pipeline is a subscribed transport together with the components that outlive it.
type pipeline struct {
	log           *zap.SugaredLogger
	transport     *conn
	archive       archiveCloser // nil without --archive
	metricsServer *metrics.Server
}

// run serves until ctx ends or a component fails. Shutdown closes the transport
// first so no handler is still writing when the archive takes its final flush.
func (p *pipeline) run(ctx context.Context) error {
	metricsErrCh := p.metricsServer.Start()

	g, gctx := errgroup.WithContext(ctx)

	if runner, ok := p.transport.sub.(transport.Runner); ok {
		g.Go(func() error {
			if err := runner.Run(gctx); err != nil {
				return fmt.Errorf("subscriber error: %w", err)
			}
			return nil
		})
	}

	if reporter, ok := p.transport.pub.(transport.ErrorReporter); ok {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-reporter.Errors():
				if !ok {
					return nil
				}
				return fmt.Errorf("publisher error: %w", err)
			}
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			// Closed without error: keep serving until the group is done.
			<-gctx.Done()
			return nil
		}
	})

	err := g.Wait()
	p.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	p.transport.Close(shutdownCtx)
	if p.archive != nil {
		if closeErr := p.archive.Close(shutdownCtx); closeErr != nil {
			p.log.Warnw("failed to flush archive on shutdown", "error", closeErr)
		}
	}
	if shutdownErr := p.metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		p.log.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	p.log.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
