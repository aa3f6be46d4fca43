package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adamscao/pkiserver/internal/api"
	"github.com/adamscao/pkiserver/internal/auth"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/config"
	"github.com/adamscao/pkiserver/internal/db"
	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/service"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/pki-server/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("PKI Server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	logger.Info("starting PKI server",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("config", *configPath),
	)

	// Load the issuing CA
	authority, err := ca.LoadCA(cfg.CA.CertPath, cfg.CA.KeyPath, cfg.CA.KeyPassword, cfg.CA.ChainPath)
	if err != nil {
		logger.Fatal("failed to load issuing CA", zap.Error(err))
	}
	info := authority.Info()
	logger.Info("issuing CA loaded",
		zap.String("subject", info.Subject),
		zap.Time("not_after", info.NotAfter),
		zap.Int("days_until_expiry", info.DaysUntilExpiry),
	)

	// Initialize database
	database, err := db.New(cfg.Database.Driver, cfg.DataSource())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(context.Background(), database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	authn, err := auth.NewAuthenticator(cfg.Admin.Password, cfg.GetSessionTTL(), cfg.Admin.TOTPSecret)
	if err != nil {
		logger.Fatal("failed to initialize authenticator", zap.Error(err))
	}
	if authn.TOTPRequired() {
		logger.Info("admin TOTP enabled")
	}

	svc := service.New(cfg.Policy, authority, repository.NewStore(database.DB), authn, logger)
	server := api.NewServer(cfg, svc, logger)

	httpErrLog, _ := zap.NewStdLogAt(logger.Named("http"), zapcore.ErrorLevel)
	httpServer := &http.Server{
		Addr:              server.Addr(),
		Handler:           server.Handler(),
		ErrorLog:          httpErrLog,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepSessions(ctx, svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// sweepSessions periodically drops expired admin sessions until ctx ends
func sweepSessions(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.SweepSessions()
		}
	}
}
