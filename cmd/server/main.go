package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetsync/internal/config"
	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/logging"
	"github.com/JonMunkholm/sheetsync/internal/store/memory"
	"github.com/JonMunkholm/sheetsync/internal/store/postgres"
	"github.com/JonMunkholm/sheetsync/internal/store/sqlite"
	"github.com/JonMunkholm/sheetsync/internal/web"
)

func main() {
	// Overload lets a local .env win over stale shell variables.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	store, err := openStore(ctx, &cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	catalog, err := loadCatalog(cfg.VocabularyDir)
	if err != nil {
		slog.Error("failed to load vocabularies", "dir", cfg.VocabularyDir, "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(store, catalog, cfg.ServiceConfig())
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}
	for _, k := range service.Kinds() {
		slog.Debug("entity kind registered", "kind", k.Kind, "role", k.Role, "columns", len(k.Headers))
	}

	server, err := web.NewServer(service, cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop taking requests first so no new ingestion starts while draining.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if st := service.Limiter().Status(); st.Active > 0 {
			slog.Info("waiting for ingestions to complete", "active", st.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			} else {
				slog.Info("all ingestions completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openStore connects the configured driver. Postgres tables are created
// only when DB_ENSURE_SCHEMA is set.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (core.Store, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil

	case "sqlite":
		// Open always creates the tables.
		s, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database", "driver", "sqlite", "path", cfg.URL)
		return s, nil

	case "postgres":
		s, err := postgres.Open(ctx, cfg.URL, postgres.PoolConfig{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		if u, err := url.Parse(cfg.URL); err == nil {
			slog.Info("connected to database", "driver", "postgres", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database", "driver", "postgres")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// loadCatalog reads vocabulary overrides from dir, or returns nil so the
// service falls back to the embedded set.
func loadCatalog(dir string) (*core.Catalog, error) {
	if dir == "" {
		return nil, nil
	}
	return core.LoadVocabularies(os.DirFS(dir))
}
