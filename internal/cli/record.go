package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/metmac/internal/buffer"
	"github.com/runnerr0/metmac/internal/config"
	"github.com/runnerr0/metmac/internal/ingest"
	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/server"
	"github.com/runnerr0/metmac/internal/storage"
)

// recordSummary is the JSON output structure for the record command.
type recordSummary struct {
	ingest.Result
	Interrupted bool `json:"interrupted"`
	Unflushed   int  `json:"unflushed"`
}

// Execute implements the go-flags Commander interface for RecordCommand.
func (c *RecordCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, store, closeStore, err := prepare(ctx, c.globals)
	if err != nil {
		return err
	}
	defer closeStore()

	shutdownTracing, err := setupTracing(ctx, cfg, c.version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	input := c.Input
	if input == "" {
		input = cfg.Capture.Input
	}
	r := io.Reader(os.Stdin)
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	return c.executeWithStore(ctx, cfg, store, r)
}

// executeWithStore runs the record pipeline against a provided store (for testing).
func (c *RecordCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store, r io.Reader) error {
	logger := log.WithComponent("record")

	buf, err := buffer.New(store, buffer.Config{
		FlushThreshold: cfg.Buffer.FlushThreshold,
		FlushInterval:  cfg.Buffer.FlushInterval(),
		MaxPending:     cfg.Buffer.MaxPending,
		Overflow:       buffer.OverflowPolicy(cfg.Buffer.OverflowPolicy),
	})
	if err != nil {
		return err
	}

	denylist, err := ingest.NewDenylist(cfg.Capture.DenylistWindows, cfg.Capture.DenylistRegex)
	if err != nil {
		return err
	}
	resolver := ingest.NewCommandResolver(cfg.Capture.WindowCommand, cfg.Capture.WindowTimeout())
	normalizer := ingest.NewNormalizer(resolver, denylist)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return buf.Run(runCtx, cfg.Buffer.FlushInterval())
	})

	if c.Serve {
		srv := server.New(store, c.version)
		g.Go(func() error {
			return srv.Run(runCtx, cfg.Server.Addr())
		})
	}

	var summary recordSummary
	g.Go(func() error {
		// End of input stops the ticker and the server too.
		defer cancel()
		res, err := consumeUntilDone(runCtx, r, ingest.NewConsumer(buf, normalizer))
		summary.Result = res
		if errors.Is(err, context.Canceled) {
			summary.Interrupted = true
			return nil
		}
		return err
	})

	logger.Info().
		Int("flush_threshold", cfg.Buffer.FlushThreshold).
		Dur("flush_interval", cfg.Buffer.FlushInterval()).
		Bool("serve", c.Serve).
		Msg("recording")

	runErr := g.Wait()

	closeErr := buf.Close(context.Background())
	summary.Unflushed = buf.Len()
	if closeErr != nil {
		logger.Error().Err(closeErr).Int("unflushed", summary.Unflushed).Msg("final flush failed")
	}

	if c.globals != nil && c.globals.JSON {
		if err := writeJSON(summary); err != nil {
			return err
		}
	} else {
		fmt.Printf("Recorded %s events (%d rejected, %d filtered, %d flush errors)\n",
			formatNumber(int64(summary.Accepted)), summary.Rejected, summary.Filtered, summary.FlushErrors)
		if summary.Unflushed > 0 {
			fmt.Printf("WARNING: %d events could not be written\n", summary.Unflushed)
		}
	}

	return errors.Join(runErr, closeErr)
}

// consumeUntilDone runs c but returns as soon as ctx is done, even if the
// reader is blocked, reporting the counts reached so far. The abandoned
// reader goroutine exits on its next line, when the closed buffer rejects it.
func consumeUntilDone(ctx context.Context, r io.Reader, c *ingest.Consumer) (ingest.Result, error) {
	type outcome struct {
		res ingest.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Run(ctx, r)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return c.Result(), ctx.Err()
	}
}
