package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"care-talk/server/internal/api"
	"care-talk/server/internal/config"
	"care-talk/server/internal/observe"
)

const version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket practice server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			host, port, err := splitAddr(addr)
			if err != nil {
				return err
			}
			cfg.Server.Host, cfg.Server.Port = host, port
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address host:port (overrides config)")
}

func runServe(parent context.Context, cfg *config.Config) error {
	closer, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	a, err := newApp(cfg, metrics, cfg.Speech.AutoSpeak && cfg.Speech.Mode != config.SpeechOff)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg, a.manager, a.store, a.timeline, metrics)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[Serve] 🚀 caretalk listening on %s (llm=%s speech=%s)", httpServer.Addr, cfg.LLM.Provider, cfg.Speech.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		evictLoop(gctx, a, cfg.Session.MaxInactiveTime)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[Serve] 🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		server.Close()
		err := httpServer.Shutdown(shutdownCtx)
		return errors.Join(err, shutdownOTel(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Printf("[Serve] ✅ Stopped")
	return nil
}

// evictLoop 定期清理长时间无活动的会话
func evictLoop(ctx context.Context, a *app, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	interval := maxIdle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := a.manager.EvictIdle(ctx, maxIdle); len(evicted) > 0 {
				log.Printf("[Serve] 🧹 Evicted %d idle sessions", len(evicted))
			}
		}
	}
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}
