package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/arns"
	"github.com/ar-io/wayfinder-router/cache"
	"github.com/ar-io/wayfinder-router/config"
	"github.com/ar-io/wayfinder-router/content"
	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/handler"
	"github.com/ar-io/wayfinder-router/health"
	"github.com/ar-io/wayfinder-router/httpclient"
	"github.com/ar-io/wayfinder-router/logger"
	"github.com/ar-io/wayfinder-router/manifest"
	"github.com/ar-io/wayfinder-router/ping"
	"github.com/ar-io/wayfinder-router/redisclient"
	"github.com/ar-io/wayfinder-router/router"
	"github.com/ar-io/wayfinder-router/routing"
	"github.com/ar-io/wayfinder-router/temperature"
	"github.com/ar-io/wayfinder-router/tracker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Str("base_domain", cfg.BaseDomain).Msg("wayfinder router starting")

	pool := httpclient.New(httpclient.DefaultPoolConfig())

	var redisCli *redisclient.Client
	if cfg.RedisURL != "" {
		rc, err := redisclient.New(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing without redis")
		} else if err := rc.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — continuing without redis")
		} else {
			redisCli = rc
			log.Info().Msg("redis connected")
		}
	}

	staticProvider, err := gateway.NewStaticProvider(cfg.RoutingGatewayURLs, cfg.VerificationGatewayURLs)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid gateway configuration")
	}

	var gwProvider gateway.Provider = staticProvider
	if cfg.GatewaySource == config.GatewaySourceRedis {
		if redisCli == nil {
			log.Fatal().Msg("ROUTER_GATEWAY_SOURCE=redis but no redis connection is available")
		}
		gwProvider = gateway.NewRedisProvider(redisCli, "wayfinder:gateways:routing", "wayfinder:gateways:verification", staticProvider)
	}

	registryCtx, registryCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry, err := gateway.NewRegistry(registryCtx, gwProvider, cfg.RegistryRefresh)
	registryCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("gateway registry init failed")
	}
	registry.Start()

	healthTracker := health.NewTracker(5, 5*time.Minute, 10_000)
	temperatureTracker := temperature.New(15*time.Minute, 10_000)

	var roundRobinCounter uint64
	selector, err := routing.New(string(cfg.Strategy), healthTracker, temperatureTracker, &roundRobinCounter)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid routing strategy")
	}

	pingClient := pool.GetClient("ping", cfg.PingTimeout)
	pingService := ping.New(registry, healthTracker, temperatureTracker, pingClient, log, ping.Config{
		Interval:    cfg.PingInterval,
		SampleCount: cfg.PingGatewayCount,
		Concurrency: cfg.PingConcurrency,
		Timeout:     cfg.PingTimeout,
	})
	pingService.Start()

	var arnsMirror arns.MirrorStore
	if redisCli != nil {
		arnsMirror = arns.NewRedisStore(redisCli, "wayfinder:arns:")
	}
	arnsClient := pool.GetClient("arns-resolve", cfg.ArnsTimeout)
	resolver := arns.New(registry, arnsClient, cfg.ConsensusThreshold, cfg.ArnsTimeout, log, arnsMirror)

	manifests := manifest.NewCache()

	fetcher := content.NewFetcher(pool, registry, healthTracker, temperatureTracker, selector, cfg.RetryAttempts, cfg.RequestTimeout)
	digestFetcher := content.NewHTTPDigestFetcher(pool, cfg.ArnsTimeout)

	contentCache, err := cache.New(cache.Config{
		MemoryMaxBytes: cfg.CacheMemoryBytes,
		DiskMaxBytes:   cfg.CacheDiskBytes,
		MaxItemBytes:   cfg.CacheItemBytes,
		DiskEnabled:    cfg.CacheDiskEnabled,
		DiskPath:       cfg.CachePath,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("content cache init failed")
	}

	var verifier *content.Verifier
	verifier = content.NewVerifier(registry, digestFetcher, manifests, func(ctx context.Context, manifestTxID string) (*manifest.Manifest, error) {
		result, err := fetcher.FetchByTxID(content.FetchOpts{TraceID: "manifest-fetch"}, manifestTxID)
		if err != nil {
			return nil, err
		}
		outcome, err := verifier.Verify(ctx, result.Response, manifestTxID, "")
		if err != nil {
			return nil, err
		}
		return manifest.Parse(manifestTxID, outcome.Data)
	})
	verifier.SkipQuorum = !cfg.VerificationEnabled

	reqTracker := tracker.New()

	h := handler.New(cfg, log, registry, selector, resolver, manifests, fetcher, verifier, contentCache, reqTracker)
	r := router.New(cfg, log, h)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("wayfinder router listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")
	shutdown(log, cfg, srv, reqTracker, pingService, registry, pool)
}

// shutdown implements the graceful shutdown sequence: stop accepting new
// work, drain in-flight requests, stop background services in reverse
// startup order, close pooled connections, and force-exit if the whole
// sequence overruns shutdown_timeout_ms.
func shutdown(log zerolog.Logger, cfg *config.Config, srv *http.Server, reqTracker *tracker.Tracker, pingService *ping.Service, registry *gateway.Registry, pool *httpclient.Pool) {
	deadline := time.AfterFunc(cfg.ShutdownTimeout, func() {
		log.Error().Dur("timeout", cfg.ShutdownTimeout).Msg("shutdown exceeded timeout, forcing exit")
		os.Exit(1)
	})
	defer deadline.Stop()

	drained := reqTracker.StartDraining()
	select {
	case <-drained:
		log.Info().Msg("in-flight requests drained")
	case <-time.After(cfg.DrainTimeout):
		log.Warn().Int64("in_flight", reqTracker.InFlight()).Msg("drain timeout exceeded, continuing shutdown with requests still in flight")
	}

	pingService.Stop()
	registry.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	pool.Close()

	log.Info().Msg("wayfinder router stopped gracefully")
}
