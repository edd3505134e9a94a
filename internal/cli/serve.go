package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/metmac/internal/config"
	"github.com/runnerr0/metmac/internal/server"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
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

	return server.New(store, c.version).Run(ctx, c.addr(cfg))
}

// addr returns the listen address, honoring --port.
func (c *ServeCommand) addr(cfg *config.Config) string {
	sc := cfg.Server
	if c.Port > 0 {
		sc.Port = c.Port
	}
	return sc.Addr()
}
