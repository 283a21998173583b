package arns

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ar-io/wayfinder-router/redisclient"
)

// RedisStore mirrors resolved ArNS names into Redis so other router
// instances in a fleet can skip consensus for a name one of them already
// resolved, until that entry's own TTL expires.
type RedisStore struct {
	client *redisclient.Client
	prefix string
}

// NewRedisStore creates a mirror store using keys "<prefix><name>".
func NewRedisStore(client *redisclient.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "wayfinder:arns:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

type wireResolution struct {
	TxID       string    `json:"txid"`
	TTLSeconds int64     `json:"ttl_seconds"`
	ResolvedAt time.Time `json:"resolved_at"`
	ProcessID  string    `json:"process_id,omitempty"`
}

func (s *RedisStore) Get(ctx context.Context, name string) (Resolution, bool) {
	raw, err := s.client.Raw().Get(ctx, s.prefix+name).Result()
	if err != nil {
		return Resolution{}, false
	}
	var w wireResolution
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Resolution{}, false
	}
	return Resolution{
		TxID:       w.TxID,
		TTL:        time.Duration(w.TTLSeconds) * time.Second,
		ResolvedAt: w.ResolvedAt,
		ProcessID:  w.ProcessID,
	}, true
}

func (s *RedisStore) Set(ctx context.Context, name string, r Resolution) {
	w := wireResolution{
		TxID:       r.TxID,
		TTLSeconds: int64(r.TTL.Seconds()),
		ResolvedAt: r.ResolvedAt,
		ProcessID:  r.ProcessID,
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	_ = s.client.Raw().Set(ctx, s.prefix+name, raw, r.TTL).Err()
}
