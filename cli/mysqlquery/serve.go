package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaz/mysqlquery/internal/api"
	"github.com/kaz/mysqlquery/internal/config"
	"github.com/kaz/mysqlquery/internal/mcp"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Server.MCPTransport = transport
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&transport, "mcp-transport", "", "override MCP transport (sse, stdio, none)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close cleanly")
		}
	}()

	if err := prometheus.Register(pool.NewCollector(a.registry)); err != nil {
		return fmt.Errorf("failed to register pool collector: %w", err)
	}

	apiSrv := api.New(api.Deps{
		Tool:     a.adapter,
		History:  a.history,
		Pools:    a.registry,
		Profiles: a.profiles,
		Events:   a.hub,
	}, a.log.Logger)

	mcpSrv := mcp.NewServer("mysqlquery", version, mcp.Deps{
		Tool:     a.adapter,
		Catalog:  a.catalog,
		Profiles: a.profiles,
		History:  a.history,
		Pools:    a.registry,
	}, a.log.Logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return apiSrv.Start(cfg.Server.APIAddr)
	})

	switch cfg.Server.MCPTransport {
	case "sse":
		eg.Go(func() error {
			return mcpSrv.ServeSSE(cfg.Server.MCPAddr)
		})
	case "stdio":
		eg.Go(func() error {
			// the client closing stdin ends the whole process
			defer stop()
			return mcpSrv.ServeStdio()
		})
	}

	eg.Go(func() error {
		return a.registry.Run(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		a.log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		seg := &errgroup.Group{}
		seg.Go(func() error { return apiSrv.Shutdown(sctx) })
		if cfg.Server.MCPTransport == "sse" {
			seg.Go(func() error { return mcpSrv.Shutdown(sctx) })
		}
		return seg.Wait()
	})

	a.log.Info().
		Str("api_addr", cfg.Server.APIAddr).
		Str("mcp_transport", cfg.Server.MCPTransport).
		Str("mcp_addr", cfg.Server.MCPAddr).
		Str("version", version).
		Msg("mysqlquery started")

	return eg.Wait()
}
