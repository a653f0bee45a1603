package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures all tunables for the gateway. Every value has a documented
// default so main stays lean and local runs need no environment at all.
type Config struct {
	Addr        string
	Environment string

	// BaseDomain is the shared host suffix used for subdomain tenant
	// resolution ({slug}.BaseDomain).
	BaseDomain string

	// JWTSigningKey signs access and refresh tokens (HS256).
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// RegistryCacheTTL bounds how stale a tenant record may be. A suspended
	// tenant becomes unreachable within this window at worst.
	RegistryCacheTTL time.Duration

	// Connection router tunables. Pool sizing is per tenant so one tenant's
	// load cannot starve another's connections.
	PoolSizePerTenant  int
	PoolAcquireTimeout time.Duration
	PoolIdleTimeout    time.Duration

	// QuotaPeriod is the usage accounting window. Counters reset at fixed
	// UTC boundaries of this period.
	QuotaPeriod time.Duration

	// AuditBuffer is the size of the audit write queue.
	AuditBuffer int

	// MasterDatabaseURL is the registry's own store; empty means in-memory.
	MasterDatabaseURL string

	// RedisURL enables the redis-backed quota counters and registry cache
	// invalidation; empty means in-memory.
	RedisURL string
}

// FromEnv builds a Config from environment variables with documented defaults.
func FromEnv() Config {
	return Config{
		Addr:               envStr("TENANTGATE_ADDR", ":8080"),
		Environment:        envStr("TENANTGATE_ENV", "development"),
		BaseDomain:         envStr("TENANTGATE_BASE_DOMAIN", "localhost"),
		JWTSigningKey:      envStr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AccessTTL:          envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:         envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RegistryCacheTTL:   envDuration("REGISTRY_CACHE_TTL", 30*time.Second),
		PoolSizePerTenant:  envInt("POOL_SIZE_PER_TENANT", 5),
		PoolAcquireTimeout: envDuration("POOL_ACQUIRE_TIMEOUT", 2*time.Second),
		PoolIdleTimeout:    envDuration("POOL_IDLE_TIMEOUT", 5*time.Minute),
		QuotaPeriod:        envDuration("QUOTA_PERIOD", 24*time.Hour),
		AuditBuffer:        envInt("AUDIT_BUFFER", 1024),
		MasterDatabaseURL:  envStr("DATABASE_URL", ""),
		RedisURL:           envStr("REDIS_URL", ""),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
