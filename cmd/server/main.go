// Drivegate Server
//
// Features:
// - Permission-filtered file manager API over a remote hierarchical store
// - Remote backends: local disk, in-memory, S3, Microsoft Graph drives
// - Rule lists from YAML or PostgreSQL
// - JWT / OIDC bearer auth with per-request roles
// - SSE change notifications
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/access/postgres"
	"github.com/fruitsalade/drivegate/internal/api"
	"github.com/fruitsalade/drivegate/internal/auth"
	"github.com/fruitsalade/drivegate/internal/config"
	"github.com/fruitsalade/drivegate/internal/events"
	"github.com/fruitsalade/drivegate/internal/filemanager"
	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/remote/backends"
)

func main() {
	configPath := flag.String("config", os.Getenv("DRIVEGATE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Drivegate server starting...",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("metrics", cfg.Server.MetricsAddr),
		zap.String("remote", cfg.Remote.Type))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Remote store
	store, err := backends.Open(ctx, cfg.Remote.Config)
	if err != nil {
		logging.Fatal("remote store init failed", zap.Error(err))
	}
	defer store.Close()

	// Access policy
	policy, err := loadPolicy(ctx, cfg.Policy)
	if err != nil {
		logging.Fatal("access policy init failed", zap.Error(err))
	}

	// Auth
	var authenticator *auth.Authenticator
	if cfg.Auth.JWTSecret != "" || cfg.Auth.OIDCIssuer != "" {
		authenticator, err = auth.New(ctx, cfg.Auth)
		if err != nil {
			logging.Fatal("auth init failed", zap.Error(err))
		}
	} else if cfg.Auth.Required {
		logging.Fatal("auth.required needs auth.jwt_secret or auth.oidc_issuer")
	} else {
		logging.Warn("authentication disabled; every request uses the policy role",
			zap.String("role", policy.Role()))
	}

	// SSE broadcaster
	broadcaster := events.NewBroadcaster()

	manager := filemanager.New(store, policy,
		filemanager.WithPollConfig(cfg.Poll),
		filemanager.WithMaxDepth(cfg.Remote.MaxDepth),
		filemanager.WithPublisher(broadcaster),
	)
	srv := api.NewServer(manager, authenticator, broadcaster, cfg.Server.MaxUploadMemory)

	// Start metrics server
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// SIGHUP re-reads the config and applies the new log level
	go func() {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloaded, err := config.Load(*configPath)
				if err != nil {
					logging.Error("config reload failed", zap.Error(err))
					continue
				}
				logging.SetLevel(reloaded.Log.Level)
				logging.Info("log level reloaded", zap.String("level", reloaded.Log.Level))
			}
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		// SSE streams end with the request context, so Shutdown can drain.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("forced shutdown", zap.Error(err))
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.Server.ListenAddr),
			zap.String("cert", cfg.Server.TLSCertFile))
		err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.Server.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", zap.Error(err))
	}
}

// loadPolicy builds the access policy. A rule file takes precedence over
// the database; with neither configured the policy is unrestricted.
func loadPolicy(ctx context.Context, cfg config.PolicyConfig) (*access.Policy, error) {
	switch {
	case cfg.File != "":
		doc, err := access.LoadFile(afero.NewOsFs(), cfg.File)
		if err != nil {
			return nil, err
		}
		logging.Info("access rules loaded from file",
			zap.String("file", cfg.File),
			zap.Int("count", len(doc.Rules)))
		return doc.Policy(cfg.Role), nil

	case cfg.DatabaseURL != "":
		src, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		if err := src.Migrate(ctx); err != nil {
			return nil, err
		}
		rules, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		return access.NewPolicy(rules, cfg.Role), nil
	}

	logging.Warn("no access rules configured; nothing is restricted")
	return access.NewPolicy(nil, cfg.Role), nil
}
