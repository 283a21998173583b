package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RoutingStrategy enumerates the selectable routing strategies.
type RoutingStrategy string

const (
	StrategyFastest    RoutingStrategy = "fastest"
	StrategyRandom     RoutingStrategy = "random"
	StrategyRoundRobin RoutingStrategy = "round-robin"
	StrategyTemperature RoutingStrategy = "temperature"
)

// GatewaySource enumerates where the gateway registry sources its list from.
type GatewaySource string

const (
	GatewaySourceStatic GatewaySource = "static"
	GatewaySourceRedis  GatewaySource = "redis"
)

// RequestMode enumerates the two serving modes.
type RequestMode string

const (
	ModeProxy RequestMode = "proxy"
	ModeRoute RequestMode = "route"
)

// Config holds all router configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	BaseDomain      string
	GracefulTimeout time.Duration
	DrainTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Gateway sourcing
	GatewaySource        GatewaySource
	RoutingGatewayURLs   []string
	VerificationGatewayURLs []string
	RegistryRefresh      time.Duration

	// ArNS consensus
	ConsensusThreshold int
	ArnsCacheTTL       time.Duration
	ArnsTimeout        time.Duration

	// Routing
	Strategy      RoutingStrategy
	RetryAttempts int

	// Mode
	Mode           RequestMode
	AllowModeOverride bool
	RestrictToRootHost bool
	RootHostContent    string

	// Verification
	VerificationEnabled bool

	// Content cache
	CacheMemoryBytes int64
	CacheDiskBytes   int64
	CacheItemBytes   int64
	CachePath        string
	CacheDiskEnabled bool

	// Ping service
	PingInterval    time.Duration
	PingGatewayCount int
	PingConcurrency int
	PingTimeout     time.Duration

	// HTTP
	RequestTimeout time.Duration

	// Redis (optional)
	RedisURL string

	// Admin surface
	AdminAuthToken string

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional .env
// file, then validates the boot-time invariants described in the router's
// operational contract. It panics on an invalid configuration, the same way
// a misconfigured deployment should fail fast rather than serve wrong
// answers.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("ROUTER_GRACEFUL_TIMEOUT_SEC", 15)
	drainMs := getEnvInt("ROUTER_DRAIN_TIMEOUT_MS", 10_000)
	shutdownMs := getEnvInt("ROUTER_SHUTDOWN_TIMEOUT_MS", 20_000)

	cfg := &Config{
		Addr:            getEnv("ROUTER_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		BaseDomain:      getEnv("ROUTER_BASE_DOMAIN", "arweave.dev"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		DrainTimeout:    time.Duration(drainMs) * time.Millisecond,
		ShutdownTimeout: time.Duration(shutdownMs) * time.Millisecond,

		GatewaySource:           GatewaySource(getEnv("ROUTER_GATEWAY_SOURCE", string(GatewaySourceStatic))),
		RoutingGatewayURLs:      splitCSV(getEnv("ROUTER_ROUTING_GATEWAYS", "https://arweave.net")),
		VerificationGatewayURLs: splitCSV(getEnv("ROUTER_VERIFICATION_GATEWAYS", "https://arweave.net,https://permagate.io,https://vilenarios.com")),
		RegistryRefresh:         time.Duration(getEnvInt("ROUTER_REGISTRY_REFRESH_SEC", 60)) * time.Second,

		ConsensusThreshold: getEnvInt("ROUTER_CONSENSUS_THRESHOLD", 2),
		ArnsCacheTTL:       time.Duration(getEnvInt("ROUTER_ARNS_DEFAULT_TTL_SEC", 300)) * time.Second,
		ArnsTimeout:        time.Duration(getEnvInt("ROUTER_ARNS_TIMEOUT_MS", 5_000)) * time.Millisecond,

		Strategy:      RoutingStrategy(getEnv("ROUTER_STRATEGY", string(StrategyFastest))),
		RetryAttempts: getEnvInt("ROUTER_RETRY_ATTEMPTS", 3),

		Mode:               RequestMode(getEnv("ROUTER_MODE", string(ModeProxy))),
		AllowModeOverride:  getEnvBool("ROUTER_ALLOW_MODE_OVERRIDE", false),
		RestrictToRootHost: getEnvBool("ROUTER_RESTRICT_TO_ROOT_HOST", false),
		RootHostContent:    getEnv("ROUTER_ROOT_HOST_CONTENT", ""),

		VerificationEnabled: getEnvBool("ROUTER_VERIFICATION_ENABLED", true),

		CacheMemoryBytes: int64(getEnvInt("ROUTER_CACHE_MEMORY_BYTES", 256*1024*1024)),
		CacheDiskBytes:   int64(getEnvInt("ROUTER_CACHE_DISK_BYTES", 10*1024*1024*1024)),
		CacheItemBytes:   int64(getEnvInt("ROUTER_CACHE_ITEM_MAX_BYTES", 64*1024*1024)),
		CachePath:        getEnv("ROUTER_CACHE_PATH", "./data/cache"),
		CacheDiskEnabled: getEnvBool("ROUTER_CACHE_DISK_ENABLED", true),

		PingInterval:     time.Duration(getEnvInt("ROUTER_PING_INTERVAL_HOURS", 1)) * time.Hour,
		PingGatewayCount: getEnvInt("ROUTER_PING_GATEWAY_COUNT", 10),
		PingConcurrency:  getEnvInt("ROUTER_PING_CONCURRENCY", 5),
		PingTimeout:      time.Duration(getEnvInt("ROUTER_PING_TIMEOUT_MS", 3_000)) * time.Millisecond,

		RequestTimeout: time.Duration(getEnvInt("ROUTER_REQUEST_TIMEOUT_MS", 30_000)) * time.Millisecond,

		RedisURL: getEnv("REDIS_URL", ""),

		AdminAuthToken: getEnv("ROUTER_ADMIN_AUTH_TOKEN", ""),

		MaxBodyBytes: int64(getEnvInt("ROUTER_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}
	return cfg
}

// Validate enforces the configuration invariants described in the router's
// operational contract. It is exported so tests can exercise it directly
// without relying on panic/recover around Load.
func (c *Config) Validate() error {
	if c.ConsensusThreshold < 2 {
		return fmt.Errorf("ROUTER_CONSENSUS_THRESHOLD must be >= 2, got %d", c.ConsensusThreshold)
	}
	if c.ConsensusThreshold > len(c.VerificationGatewayURLs) {
		return fmt.Errorf("ROUTER_CONSENSUS_THRESHOLD (%d) exceeds configured verification gateway count (%d)",
			c.ConsensusThreshold, len(c.VerificationGatewayURLs))
	}
	if c.ShutdownTimeout <= c.DrainTimeout {
		return fmt.Errorf("ROUTER_SHUTDOWN_TIMEOUT_MS must exceed ROUTER_DRAIN_TIMEOUT_MS")
	}
	switch c.Strategy {
	case StrategyFastest, StrategyRandom, StrategyRoundRobin, StrategyTemperature:
	default:
		return fmt.Errorf("unknown ROUTER_STRATEGY %q", c.Strategy)
	}
	switch c.GatewaySource {
	case GatewaySourceStatic, GatewaySourceRedis:
	default:
		return fmt.Errorf("unknown ROUTER_GATEWAY_SOURCE %q", c.GatewaySource)
	}
	switch c.Mode {
	case ModeProxy, ModeRoute:
	default:
		return fmt.Errorf("unknown ROUTER_MODE %q", c.Mode)
	}
	if c.GatewaySource == GatewaySourceRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when ROUTER_GATEWAY_SOURCE=redis")
	}
	if !isLoopbackAddr(c.Addr) && c.AdminAuthToken == "" {
		return fmt.Errorf("ROUTER_ADMIN_AUTH_TOKEN is required when ROUTER_ADDR (%q) is not bound to loopback", c.Addr)
	}
	return nil
}

// isLoopbackAddr reports whether addr (a host:port listen address) is
// bound to loopback only. An empty host (":8080") or "0.0.0.0" binds every
// interface and is not loopback.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" {
		return false
	}
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
