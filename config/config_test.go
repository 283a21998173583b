package config

import "testing"

func validBaseConfig() *Config {
	return &Config{
		Addr:                    "127.0.0.1:8080",
		ConsensusThreshold:      2,
		VerificationGatewayURLs: []string{"https://a.example", "https://b.example"},
		ShutdownTimeout:         20_000_000_000,
		DrainTimeout:            10_000_000_000,
		Strategy:                StrategyFastest,
		GatewaySource:           GatewaySourceStatic,
		Mode:                    ModeProxy,
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateRejectsConsensusThresholdBelowTwo(t *testing.T) {
	cfg := validBaseConfig()
	cfg.ConsensusThreshold = 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for consensus threshold below 2")
	}
}

func TestValidateRejectsConsensusThresholdAboveGatewayCount(t *testing.T) {
	cfg := validBaseConfig()
	cfg.ConsensusThreshold = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when consensus threshold exceeds verification gateway count")
	}
}

func TestValidateRejectsShutdownTimeoutNotExceedingDrainTimeout(t *testing.T) {
	cfg := validBaseConfig()
	cfg.ShutdownTimeout = cfg.DrainTimeout
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when shutdown timeout does not exceed drain timeout")
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Strategy = "made-up-strategy"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestValidateRejectsRedisSourceWithoutURL(t *testing.T) {
	cfg := validBaseConfig()
	cfg.GatewaySource = GatewaySourceRedis
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when redis gateway source has no REDIS_URL")
	}
}

func TestValidateRejectsNonLoopbackBindWithoutAdminToken(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Addr = ":8080"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when binding non-loopback without an admin auth token")
	}
}

func TestValidateAllowsNonLoopbackBindWithAdminToken(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Addr = "0.0.0.0:8080"
	cfg.AdminAuthToken = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config with admin token set, got: %v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
