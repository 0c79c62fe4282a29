package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/traduwiki/internal/config"
	"github.com/dgellow/traduwiki/internal/csrf"
	"github.com/dgellow/traduwiki/internal/handshake"
	"github.com/dgellow/traduwiki/internal/log"
	"github.com/dgellow/traduwiki/internal/render"
	"github.com/dgellow/traduwiki/internal/server"
	"github.com/dgellow/traduwiki/internal/session"
	"github.com/dgellow/traduwiki/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

// Traduwiki is the assembled application
type Traduwiki struct {
	config     config.Config
	httpServer *server.HTTPServer
	renderer   *render.Renderer
	cleanup    *storage.CleanupManager
	closers    []io.Closer
}

// New builds the application with all dependencies wired
func New(ctx context.Context, cfg config.Config) (*Traduwiki, error) {
	log.LogInfoWithFields("traduwiki", "Building application", map[string]any{
		"addr":      cfg.Server.Addr,
		"providers": cfg.Auth.Providers.Names(),
		"storage":   cfg.Storage.Kind,
		"cache":     cfg.Storage.Cache.Kind,
	})

	app := &Traduwiki{config: cfg}

	users, err := app.setupStorage(ctx, cfg.Storage)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	renderer, err := render.New(cfg.Server.TemplateDir)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	app.renderer = renderer

	sessions := session.NewManager([]byte(cfg.Auth.CookieSecret), cfg.Auth.CookieName)
	coordinator := handshake.NewCoordinator(
		cfg.Auth.Providers,
		cfg.Auth.Credentials,
		sessions,
		handshake.WithTimeout(cfg.Auth.HandshakeTimeout),
		handshake.WithMaxRetries(cfg.Auth.HandshakeRetries),
		handshake.WithUserStore(users),
		handshake.WithLoginURL(cfg.Server.LoginURL),
	)

	handlers := server.NewHandlers(server.HandlersConfig{
		Handshake:       coordinator,
		Sessions:        sessions,
		CSRF:            csrf.NewManager(),
		Renderer:        renderer,
		Providers:       cfg.Auth.Providers.Names(),
		DefaultProvider: cfg.Auth.DefaultProvider,
		LoginURL:        cfg.Server.LoginURL,
	})
	app.httpServer = server.NewHTTPServer(server.NewRouter(handlers), cfg.Server.Addr)

	return app, nil
}

// setupStorage builds the user registry on the configured store and cache
func (a *Traduwiki) setupStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Users, error) {
	var backing storage.Store[storage.User]
	switch cfg.Kind {
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":  cfg.GCPProject,
			"database": cfg.FirestoreDatabase,
		})
		client, err := storage.NewFirestoreClient(ctx, storage.FirestoreConfig{
			ProjectID:       cfg.GCPProject,
			Database:        cfg.FirestoreDatabase,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		store := storage.NewFirestoreStore[storage.User](client)
		a.closers = append(a.closers, store)
		backing = store
	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
		backing = storage.NewMemoryStore[storage.User]()
	}

	var cache storage.Cache
	switch cfg.Cache.Kind {
	case config.CacheNone:
		return storage.NewUsers(backing), nil
	case config.CacheValkey:
		log.LogInfoWithFields("storage", "Using Valkey cache", map[string]any{
			"addrs": cfg.Cache.Addrs,
			"ttl":   cfg.Cache.TTL.String(),
		})
		valkeyCache, err := storage.NewValkeyCache(cfg.Cache.Addrs, "")
		if err != nil {
			return nil, err
		}
		cache = valkeyCache
	default:
		memoryCache := storage.NewMemoryCache()
		a.cleanup = storage.NewCleanupManager(memoryCache, sweepInterval)
		cache = memoryCache
	}
	a.closers = append(a.closers, cache)

	return storage.NewUsers(storage.NewCachedStore(backing, cache, cfg.Cache.TTL)), nil
}

// Handler returns the application's root handler
func (a *Traduwiki) Handler() http.Handler {
	return a.httpServer.Handler()
}

// Run serves until SIGINT, SIGTERM or a server error, then shuts down gracefully
func (a *Traduwiki) Run() error {
	log.LogInfoWithFields("traduwiki", "Starting application", map[string]any{
		"addr": a.config.Server.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer a.close()

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if a.cleanup != nil {
		a.cleanup.Start(ctx)
		defer a.cleanup.Stop()
	}

	if a.config.Server.WatchTemplates && a.config.Server.TemplateDir != "" {
		if err := a.renderer.Watch(ctx); err != nil {
			log.LogWarnWithFields("traduwiki", "Template watching disabled", map[string]any{
				"error": err.Error(),
			})
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("traduwiki", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("traduwiki", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("traduwiki", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("traduwiki", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("traduwiki", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

func (a *Traduwiki) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.LogWarnWithFields("traduwiki", "Failed to close resource", map[string]any{
				"error": err.Error(),
			})
		}
	}
	a.closers = nil
}
