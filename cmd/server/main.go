package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bugrelay/auth-service/internal/app"
	"github.com/bugrelay/auth-service/internal/config"
	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/http/handler"
	"github.com/bugrelay/auth-service/internal/http/router"
	"github.com/bugrelay/auth-service/internal/notify"
	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/repository"
	"github.com/bugrelay/auth-service/internal/security"
	"github.com/bugrelay/auth-service/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:   "auth-service",
		Short: "Token authentication and session lifecycle service",
	}
	root.AddCommand(serveCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			return autoMigrate(db)
		},
	}
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger, loggerProvider, err := observability.NewLogger(ctx, cfg)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runtime.LoggerProvider = loggerProvider

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := autoMigrate(db); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	application := buildApp(cfg, logger, db, rdb, runtime)
	return run(ctx, application)
}

func buildApp(cfg *config.Config, logger *slog.Logger, db *gorm.DB, rdb redis.UniversalClient, runtime *observability.Runtime) *app.App {
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	blacklistRepo := repository.NewBlacklistRepository(db)

	codec := security.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	blacklist := service.NewDualBlacklistStore(
		service.NewRedisBlacklistCache(rdb, "blacklist"),
		blacklistRepo,
		cfg.BlacklistCacheTimeout,
		logger,
	)
	tokens := service.NewTokenService(codec, blacklist, sessions, logger, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	resolver := service.NewIdentityResolver(users, logger)
	notifier := notify.NewLogNotifier(logger)
	mfa := service.NewMFAService(
		codec, blacklist, users,
		service.NewRedisMFAChallengeStore(rdb, "mfa"),
		notifier, logger,
		cfg.PendingTokenTTL, cfg.MFAMaxAttempts, cfg.MFAAttemptWindow,
	)
	providers := service.NewOAuthProviders(service.OAuthConfig{
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		RedirectURL:        cfg.OAuthRedirectURL,
	})
	auth := service.NewAuthService(resolver, tokens, mfa, providers, users, sessions, notifier, logger)
	sessionViews := service.NewSessionService(sessions, tokens)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, logger),
		OAuthHandler:     handler.NewOAuthHandler(auth, logger, cfg.Env == "production"),
		SessionHandler:   handler.NewSessionHandler(sessionViews, logger),
		Tokens:           tokens,
		Logger:           logger,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		Readiness: func(r *http.Request) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(r.Context()); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		EnableOTelHTTP: cfg.OTELTracingEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return app.New(cfg, logger, server, db, rdb, runtime)
}

func run(ctx context.Context, a *app.App) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", a.Server.Addr, "env", a.Config.Env)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		blacklistRepo := repository.NewBlacklistRepository(a.DB)
		ticker := time.NewTicker(a.Config.BlacklistGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				purged, err := blacklistRepo.PurgeExpired(gctx, time.Now().UTC())
				if err != nil {
					a.Logger.Warn("blacklist purge failed", "error", err)
					continue
				}
				if purged > 0 {
					a.Logger.Info("blacklist purged", "rows", purged)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("http shutdown", "error", err)
		}
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close", "error", err)
		}
		if err := a.Observability.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("observability shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{TranslateError: true}
	if cfg.IsSQLite() {
		return gorm.Open(sqlite.Open(cfg.DatabaseURL), gormCfg)
	}
	return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.ExternalIdentity{},
		&domain.Session{},
		&domain.BlacklistEntry{},
		&domain.UserRevocation{},
	)
}
