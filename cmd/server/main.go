package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenantgate/internal/audit"
	"tenantgate/internal/auth"
	"tenantgate/internal/connrouter"
	"tenantgate/internal/platform/config"
	"tenantgate/internal/platform/database"
	"tenantgate/internal/platform/health"
	"tenantgate/internal/platform/httpserver"
	"tenantgate/internal/platform/logger"
	"tenantgate/internal/platform/redis"
	"tenantgate/internal/quota"
	"tenantgate/internal/registry"
	"tenantgate/internal/resolver"
	"tenantgate/internal/seeder"
	httptransport "tenantgate/internal/transport/http"
	"tenantgate/migrations"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment)

	log.Info("initializing tenantgate",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"base_domain", cfg.BaseDomain,
	)

	ctx := context.Background()

	// Stores: PostgreSQL when a master database is configured, in-memory
	// (with demo data) otherwise.
	var (
		regStore     registry.Store
		userStore    auth.UserStore
		refreshStore auth.RefreshTokenStore
		keyStore     auth.APIKeyStore
		auditStore   audit.Store
	)
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.MasterDatabaseURL
	masterDB, err := database.New(dbCfg)
	if err != nil {
		log.Error("failed to connect to master database", "error", err)
		os.Exit(1)
	}
	if masterDB != nil {
		if err := database.Migrate(ctx, masterDB.DB(), migrations.FS); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		regStore = registry.NewPostgres(masterDB.DB())
		userStore = auth.NewPostgresUserStore(masterDB.DB())
		refreshStore = auth.NewPostgresRefreshTokenStore(masterDB.DB())
		keyStore = auth.NewPostgresAPIKeyStore(masterDB.DB())
		auditStore = audit.NewPostgres(masterDB.DB())
		log.Info("using postgres stores")
	} else {
		regStore = registry.NewInMemoryStore()
		userStore = auth.NewInMemoryUserStore()
		refreshStore = auth.NewInMemoryRefreshTokenStore()
		keyStore = auth.NewInMemoryAPIKeyStore()
		auditStore = audit.NewInMemoryStore()
		log.Info("no master database configured, using in-memory stores")
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	var quotaStore quota.Store
	if redisClient != nil {
		quotaStore = quota.NewRedisStore(redisClient.Client)
		log.Info("using redis quota counters")
	} else {
		quotaStore = quota.NewInMemoryStore()
		log.Info("no redis configured, using in-memory quota counters")
	}

	reg, err := registry.New(regStore, cfg.RegistryCacheTTL,
		registry.WithLogger(log),
		registry.WithMetrics(registry.NewMetrics()),
	)
	if err != nil {
		log.Error("failed to create registry", "error", err)
		os.Exit(1)
	}

	auditLog := audit.NewLogger(auditStore, cfg.AuditBuffer,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics()),
	)

	tokens := auth.NewTokenService(cfg.JWTSigningKey, "tenantgate", cfg.AccessTTL, cfg.RefreshTTL)
	authSvc := auth.New(userStore, refreshStore, keyStore, tokens,
		auth.WithAudit(auditLog),
		auth.WithLogger(log),
		auth.WithMetrics(auth.NewMetrics()),
	)
	reg.Subscribe(authSvc.OnTenantChange)

	res := resolver.New(reg, cfg.BaseDomain,
		resolver.WithLogger(log),
		resolver.WithAPIKeyDirectory(authSvc),
	)

	router := connrouter.New(reg, connrouter.Config{
		Size:           cfg.PoolSizePerTenant,
		AcquireTimeout: cfg.PoolAcquireTimeout,
		IdleTimeout:    cfg.PoolIdleTimeout,
	},
		connrouter.WithLogger(log),
		connrouter.WithMetrics(connrouter.NewMetrics()),
	)
	reg.Subscribe(router.OnTenantChange)

	enforcer := quota.New(quotaStore, cfg.QuotaPeriod,
		quota.WithAudit(auditLog),
		quota.WithLogger(log),
		quota.WithMetrics(quota.NewMetrics()),
	)

	if masterDB == nil {
		if err := seeder.New(reg, authSvc, log).SeedAll(ctx); err != nil {
			log.Error("failed to seed demo data", "error", err)
			os.Exit(1)
		}
	}

	healthHandler := health.New(cfg.Environment)
	if masterDB != nil {
		healthHandler.RegisterCheck("database", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return masterDB.Health(checkCtx)
		})
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(checkCtx)
		})
	}

	mux := httptransport.NewRouter(httptransport.Deps{
		Registry:   reg,
		Resolver:   res,
		Auth:       authSvc,
		ConnRouter: router,
		Quota:      enforcer,
		AuditLog:   auditLog,
		AuditStore: auditStore,
		Logger:     log,
		Health:     healthHandler,
	})

	srv := httpserver.New(cfg.Addr, mux)

	// Background janitors: expired refresh tokens, redis pool stats, and
	// surfacing audit write failures.
	janitorStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-janitorStop:
				return
			case <-ticker.C:
				if n, err := refreshStore.DeleteExpired(context.Background(), time.Now().UTC()); err != nil {
					log.Error("refresh token cleanup failed", "error", err)
				} else if n > 0 {
					log.Info("expired refresh tokens removed", "count", n)
				}
			}
		}
	}()
	if redisClient != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-janitorStop:
					return
				case <-ticker.C:
					redisClient.RecordPoolStats()
				}
			}
		}()
	}
	go func() {
		for err := range auditLog.Errors() {
			log.Error("audit persistence failure", "error", err)
		}
	}()

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	close(janitorStop)
	router.Close()
	auditLog.Close()
	if masterDB != nil {
		masterDB.Close() //nolint:errcheck
	}
	if redisClient != nil {
		redisClient.Close() //nolint:errcheck
	}

	log.Info("server stopped")
}
