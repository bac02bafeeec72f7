// Command titand runs the memory store's network surface: the A2A
// coordination server (websocket) and a JSON-RPC admin API over the
// same in-process titancore.Manager.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"titan/internal/a2a/server"
	"titan/internal/config"
	"titan/internal/observability"
	"titan/internal/titanadmin"
	"titan/internal/titancore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("titand")
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	addr := flag.String("addr", "", "listen address override (default :<a2a.port>)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("titand.log", "info")

	manager, err := titancore.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("init memory manager: %w", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn().Err(err).Msg("titand_manager_close_failed")
		}
	}()

	a2aServer := server.NewServer(cfg.A2A)
	a2aServer.Start()
	defer a2aServer.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})
	mux.Handle("/a2a", http.HandlerFunc(a2aServer.ServeHTTP))
	mux.Handle("/rpc", titanadmin.NewRouter(manager, a2aServer))

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", cfg.A2A.Port)
	}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listenAddr).Msg("titand_listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	log.Info().Msg("titand_shutting_down")
	return httpServer.Shutdown(shutdownCtx)
}
