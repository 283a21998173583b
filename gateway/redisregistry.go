package gateway

import (
	"context"

	"github.com/ar-io/wayfinder-router/redisclient"
)

// RedisProvider reads gateway sets from Redis sets published by another
// process (e.g. an AR.IO network-crawler sidecar), falling back to a static
// provider on any Redis error (or an empty set), so a Redis outage degrades
// the router to its configured static gateway list instead of taking it
// down.
type RedisProvider struct {
	client         *redisclient.Client
	routingKey     string
	verificationKey string
	fallback       *StaticProvider
}

// NewRedisProvider builds a provider backed by the given Redis client and
// key names, using fallback for Redis-unavailable periods.
func NewRedisProvider(client *redisclient.Client, routingKey, verificationKey string, fallback *StaticProvider) *RedisProvider {
	return &RedisProvider{client: client, routingKey: routingKey, verificationKey: verificationKey, fallback: fallback}
}

func (p *RedisProvider) RoutingGateways(ctx context.Context) ([]Gateway, error) {
	urls, err := p.client.Raw().SMembers(ctx, p.routingKey).Result()
	if err != nil || len(urls) == 0 {
		return p.fallback.RoutingGateways(ctx)
	}
	gateways, err := parseGateways(urls, false)
	if err != nil {
		return p.fallback.RoutingGateways(ctx)
	}
	return gateways, nil
}

func (p *RedisProvider) VerificationGateways(ctx context.Context) ([]Gateway, error) {
	urls, err := p.client.Raw().SMembers(ctx, p.verificationKey).Result()
	if err != nil || len(urls) == 0 {
		return p.fallback.VerificationGateways(ctx)
	}
	gateways, err := parseGateways(urls, true)
	if err != nil {
		return p.fallback.VerificationGateways(ctx)
	}
	return gateways, nil
}
