package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/livechat/internal/server"
	"github.com/Tyrowin/livechat/internal/session"
	"github.com/Tyrowin/livechat/internal/store"
	"github.com/Tyrowin/livechat/internal/store/badgerstore"
	"github.com/Tyrowin/livechat/internal/store/sqlitestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until SIGINT/SIGTERM or a server error.
func run() error {
	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	log.Info("Starting livechat server", "config", cfg)

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing store...")
		if err := st.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}()

	bridge, err := session.NewBridge(cfg.SessionCookieName, cfg.SessionSecret, st)
	if err != nil {
		return fmt.Errorf("session bridge: %w", err)
	}

	srv := server.NewServer(cfg, server.Dependencies{
		Users:    st,
		Messages: st,
		Bridge:   bridge,
		Sessions: session.NewManager(bridge, st, cfg.SessionTTL),
	}, log)
	srv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())
	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		_ = srv.Shutdown()
		return err
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	if err := srv.Shutdown(); err != nil {
		log.Warn("Hub did not shut down cleanly", "error", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}

func openStore(cfg server.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		if err := os.MkdirAll(cfg.StorePath, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		st, err := sqlitestore.Open(filepath.Join(cfg.StorePath, "livechat.db"))
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		return st, nil
	default:
		st, err := badgerstore.Open(cfg.StorePath, log)
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		return st, nil
	}
}
