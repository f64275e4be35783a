package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"horse.fit/storymerge/internal/dedup"
)

const (
	DefaultPrefix = "storymerge:verdict:"
	DefaultTTL    = 7 * 24 * time.Hour
)

var _ dedup.VerdictCache = (*VerdictCache)(nil)

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// VerdictCache keeps definitive oracle verdicts in redis, keyed by the
// order-independent story pair key.
type VerdictCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewVerdictCache connects and pings redis.
func NewVerdictCache(ctx context.Context, opts Options) (*VerdictCache, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewVerdictCacheWithClient(rdb, opts.Prefix, opts.TTL), nil
}

func NewVerdictCacheWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *VerdictCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &VerdictCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *VerdictCache) key(pair string) string { return c.prefix + pair }

func (c *VerdictCache) Get(ctx context.Context, pair string) (dedup.Verdict, bool, error) {
	if c == nil || c.rdb == nil {
		return dedup.Verdict{}, false, nil
	}

	raw, err := c.rdb.Get(ctx, c.key(pair)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dedup.Verdict{}, false, nil
	}
	if err != nil {
		return dedup.Verdict{}, false, fmt.Errorf("get cached verdict: %w", err)
	}

	verdict, ok := decodeVerdict(raw)
	if !ok {
		// Unreadable entries are treated as misses and overwritten on the next Set.
		return dedup.Verdict{}, false, nil
	}
	return verdict, true, nil
}

// Set stores a confirmed or rejected verdict. Unknown outcomes are dropped.
func (c *VerdictCache) Set(ctx context.Context, pair string, verdict dedup.Verdict) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, ok := encodeVerdict(verdict)
	if !ok {
		return nil
	}
	if err := c.rdb.Set(ctx, c.key(pair), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached verdict: %w", err)
	}
	return nil
}

func (c *VerdictCache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("verdict cache is not initialized")
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *VerdictCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func encodeVerdict(verdict dedup.Verdict) ([]byte, bool) {
	switch verdict.Outcome {
	case dedup.OutcomeConfirmed, dedup.OutcomeRejected:
	default:
		return nil, false
	}
	verdict.Cached = false
	raw, err := json.Marshal(verdict)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func decodeVerdict(raw []byte) (dedup.Verdict, bool) {
	var verdict dedup.Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return dedup.Verdict{}, false
	}
	switch verdict.Outcome {
	case dedup.OutcomeConfirmed, dedup.OutcomeRejected:
		return verdict, true
	default:
		return dedup.Verdict{}, false
	}
}
