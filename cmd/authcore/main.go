package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mgrindel/authcore/internal/config"
	"github.com/mgrindel/authcore/internal/httpapi"
	"github.com/mgrindel/authcore/internal/obs"
	"github.com/mgrindel/authcore/internal/password"
	"github.com/mgrindel/authcore/internal/rate"
	"github.com/mgrindel/authcore/internal/service"
	"github.com/mgrindel/authcore/internal/stores"
	"github.com/mgrindel/authcore/internal/token"
	"github.com/mgrindel/authcore/internal/users"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:   cfg.LogLevel,
		Pretty:  cfg.DevMode,
		Service: "authcore",
		Env:     cfg.Env,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting authcore", zap.String("addr", cfg.HTTP.Addr))

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}

	userRepo, err := users.NewPostgresRepository(rootCtx, users.PostgresConfig{
		URL:               cfg.DB.DSN,
		MaxConns:          cfg.DB.MaxConns,
		MinConns:          cfg.DB.MinConns,
		MaxConnLifetime:   cfg.DB.MaxConnLifetime,
		HealthCheckPeriod: cfg.DB.HealthCheckPeriod,
		QueryTimeout:      cfg.DB.QueryTimeout,
	})
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer userRepo.Close()

	tokens, err := token.NewManager(token.Config{
		Secret:     []byte(cfg.JWT.Secret),
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		logger.Fatal("token manager", zap.Error(err))
	}

	registry := token.NewRegistry(rdb)
	resets := stores.NewPasswordResetStore(rdb, cfg.Reset.TTL)
	limiter := rate.New(rdb, rate.Config{
		Windows: map[rate.Scope]rate.Window{
			rate.ScopeLogin:         {Max: cfg.Rate.Login.Max, Period: cfg.Rate.Login.Period},
			rate.ScopePasswordReset: {Max: cfg.Rate.PasswordReset.Max, Period: cfg.Rate.PasswordReset.Period},
			rate.ScopeCritical:      {Max: cfg.Rate.Critical.Max, Period: cfg.Rate.Critical.Period},
			rate.ScopeAnon:          {Max: cfg.Rate.Anon.Max, Period: cfg.Rate.Anon.Period},
		},
	})
	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(promRegistry)

	auth, err := service.New(userRepo, tokens, registry, resets, limiter, hasher, logger, metrics)
	if err != nil {
		logger.Fatal("service init", zap.Error(err))
	}

	opsSrv := obs.BootstrapOpsServer(cfg.HTTP.OpsAddr, promRegistry, auth.Ping, logger)

	router := httpapi.NewRouter(httpapi.NewHandlers(auth, logger, cfg.DevMode))
	apiSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- apiSrv.ListenAndServe() }()
	logger.Info("api listener started", zap.String("addr", cfg.HTTP.Addr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = apiSrv.Shutdown(shCtx)
	_ = opsSrv.Shutdown(shCtx)
	logger.Info("bye")
}
