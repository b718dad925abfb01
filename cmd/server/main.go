package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/cart/controller"
	"cartsync/internal/cart/facade"
	"cartsync/internal/cart/gateway"
	"cartsync/internal/commons"
	"cartsync/internal/config"
	"cartsync/internal/infrastructure/logger"
	"cartsync/internal/infrastructure/mysql"
	"cartsync/internal/infrastructure/redis"
	"cartsync/internal/server"
	"cartsync/internal/session"
	"cartsync/internal/session/repository"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer zapLogger.Sync()

	snapshots, closeSnapshots, err := newSnapshotRepository(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("creating snapshot repository", zap.Error(err))
	}
	defer closeSnapshots()

	tokens, err := gateway.TokenSourceFor(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL, cfg.Auth.JWTIssuer)
	if err != nil {
		zapLogger.Fatal("creating token source", zap.Error(err))
	}

	moduleCfg := cart.ModuleConfig{
		BaseURL:         cfg.Upstream.BaseURL,
		RefetchInterval: cfg.Upstream.RefetchInterval,
		Tokens:          tokens,
	}
	registry := session.NewRegistry(func(identity gateway.Identity) (*facade.Facade, error) {
		httpClient, err := gateway.NewHTTPClient(cfg.Upstream.Timeout)
		if err != nil {
			return nil, err
		}
		return cart.NewModule(moduleCfg, httpClient, identity, zapLogger), nil
	}, snapshots, session.Options{
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxEntries:  cfg.Session.MaxEntries,
	}, zapLogger)

	var verifier controller.TokenVerifier
	if jwtTokens, ok := tokens.(*gateway.JWTTokenSource); ok {
		verifier = jwtTokens
	}
	if verifier == nil && !cfg.Auth.TrustUserHeader {
		zapLogger.Warn("no AUTH_JWT_SECRET and AUTH_TRUST_USER_HEADER off, only anonymous carts are served")
	}

	cartCtrl := controller.NewCartController(registry, controller.NewAuthenticator(verifier, cfg.Auth.TrustUserHeader), zapLogger)

	router := server.NewRouter(cartCtrl, zapLogger)

	srv := server.New(cfg.Server.Port, router, cfg.Upstream.Timeout, zapLogger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			zapLogger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	zapLogger.Info("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server shutdown failed", zap.Error(err))
	}
	registry.Close()

	zapLogger.Info("server stopped gracefully")
}

// loadConfig reads CONFIG_FILE when set, the environment otherwise.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return commons.LoadConfig(path)
	}
	return config.Load()
}

func newSnapshotRepository(cfg *config.Config, zapLogger *zap.Logger) (session.SnapshotRepository, func(), error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendMySQL:
		db, err := mysql.NewConnection(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		zapLogger.Info("database connected")
		return repository.NewMySQLSnapshotRepository(db), closer(db), nil

	case config.SnapshotBackendRedis:
		client, err := redis.NewConnection(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		zapLogger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		return repository.NewRedisSnapshotRepository(client, cfg.Snapshot.TTL), redisCloser(client), nil
	}

	zapLogger.Info("keeping cart snapshots in memory")
	return repository.NewMemorySnapshotRepository(), func() {}, nil
}

func closer(db *sql.DB) func() {
	return func() { db.Close() }
}

func redisCloser(client *goredis.Client) func() {
	return func() { client.Close() }
}
