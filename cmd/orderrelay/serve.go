package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/go-order-relay/internal/http"
	"github.com/tbourn/go-order-relay/internal/observability"
)

const shutdownTimeout = 15 * time.Second

var noSweep bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the chat connection and the sweeper",
	Long: `Start the admin HTTP API, connect to Discord to post order messages and
receive button presses, and run the reconciliation sweeper until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the reconciliation sweeper in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.chat == nil {
		log.Warn().Msg("DISCORD_TOKEN not set, orders are stored without chat notifications")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, a.orders, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if !noSweep {
		g.Go(func() error {
			return a.sweeper().Start(ctx)
		})
	} else if a.chat != nil {
		// Without the sweeper nothing else opens the gateway before the
		// first order, and button presses would go unheard.
		g.Go(func() error {
			a.dispatcher.EnsureReady(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Relay error")
		return err
	}
	log.Info().Msg("Relay shutting down gracefully")
	return nil
}
