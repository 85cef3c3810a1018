package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Key prefixes. The access counter lives under the stats prefix so a
// later reconciliation job can scan for it.
const (
	linkPrefix  = "link:"
	statsPrefix = "stats:"
	authPrefix  = "auth:"
)

const (
	// statsTTL bounds how stale a cached statistics snapshot can get
	statsTTL = time.Hour
	// opTimeout caps every cache round trip so a hung redis never
	// blocks a redirect beyond a small delay
	opTimeout = 250 * time.Millisecond
)

// LinkStats is the cached statistics snapshot for a short code
type LinkStats struct {
	ShortCode      string     `json:"short_code"`
	OriginalURL    string     `json:"original_url"`
	CreatedAt      time.Time  `json:"created_at"`
	AccessCount    uint       `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// Cache is the resolution cache in front of the durable store. The
// client may be nil (cache disabled) and any operation against an
// unreachable backend degrades to a miss or a no-op: a cache failure
// must never fail a request.
type Cache struct {
	client Client
	log    *zap.Logger
}

// New creates the cache layer. A nil client disables caching entirely.
func New(client Client, log *zap.Logger) *Cache {
	return &Cache{client: client, log: log}
}

// Enabled reports whether a backing client is configured
func (c *Cache) Enabled() bool {
	return c.client != nil
}

func (c *Cache) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// PutLink caches a short code to URL mapping. The entry's TTL is the
// remaining time until expiresAt; a link that is already expired is
// never cached. A nil expiresAt stores the entry without a TTL.
func (c *Cache) PutLink(code, url string, expiresAt *time.Time) {
	if c.client == nil {
		return
	}

	var ttl time.Duration
	if expiresAt != nil {
		ttl = time.Until(*expiresAt)
		if ttl <= 0 {
			return
		}
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.client.Set(ctx, linkPrefix+code, url, ttl); err != nil {
		c.log.Warn("cache put failed", zap.String("short_code", code), zap.Error(err))
	}
}

// GetLink returns the cached URL for a short code. A false return is a
// miss, which is not an error: the caller falls through to the store.
func (c *Cache) GetLink(code string) (string, bool) {
	if c.client == nil {
		return "", false
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	url, err := c.client.Get(ctx, linkPrefix+code)
	if err != nil {
		if err != ErrKeyNotFound {
			c.log.Warn("cache get failed", zap.String("short_code", code), zap.Error(err))
		}
		return "", false
	}
	return url, true
}

// Invalidate removes the URL entry and the cached statistics snapshot
// for a short code. Called on every update or delete.
func (c *Cache) Invalidate(code string) {
	if c.client == nil {
		return
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.client.Del(ctx, linkPrefix+code, statsPrefix+code); err != nil {
		c.log.Warn("cache invalidate failed", zap.String("short_code", code), zap.Error(err))
	}
}

// BumpAccessCount increments the lightweight per-code access counter,
// independent of the authoritative access_count column. The counter
// absorbs write pressure until it is reconciled with the store.
func (c *Cache) BumpAccessCount(code string) {
	if c.client == nil {
		return
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	if _, err := c.client.Incr(ctx, statsPrefix+code+":count"); err != nil {
		c.log.Warn("cache counter bump failed", zap.String("short_code", code), zap.Error(err))
	}
}

// PutStats caches a statistics snapshot for one hour
func (c *Cache) PutStats(code string, stats *LinkStats) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.log.Warn("stats encode failed", zap.String("short_code", code), zap.Error(err))
		return
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.client.Set(ctx, statsPrefix+code, string(data), statsTTL); err != nil {
		c.log.Warn("stats put failed", zap.String("short_code", code), zap.Error(err))
	}
}

// GetStats returns the cached statistics snapshot, if any
func (c *Cache) GetStats(code string) (*LinkStats, bool) {
	if c.client == nil {
		return nil, false
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	data, err := c.client.Get(ctx, statsPrefix+code)
	if err != nil {
		if err != ErrKeyNotFound {
			c.log.Warn("stats get failed", zap.String("short_code", code), zap.Error(err))
		}
		return nil, false
	}

	var stats LinkStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		c.log.Warn("stats decode failed", zap.String("short_code", code), zap.Error(err))
		return nil, false
	}
	return &stats, true
}

// BlacklistToken marks a JWT as revoked until it would have expired
// anyway. Returns false if the cache is unavailable.
func (c *Cache) BlacklistToken(token string, ttl time.Duration) bool {
	if c.client == nil || ttl <= 0 {
		return false
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.client.Set(ctx, authPrefix+"blacklist:"+token, "1", ttl); err != nil {
		c.log.Warn("token blacklist failed", zap.Error(err))
		return false
	}
	return true
}

// IsTokenBlacklisted reports whether a token was revoked. An
// unavailable cache reports false: revocation is best effort and the
// token still carries its own expiry.
func (c *Cache) IsTokenBlacklisted(token string) bool {
	if c.client == nil {
		return false
	}

	ctx, cancel := c.opCtx()
	defer cancel()
	_, err := c.client.Get(ctx, authPrefix+"blacklist:"+token)
	return err == nil
}

// CountRequest increments a fixed-window counter and returns the new
// count together with the window's remaining TTL. ok is false when the
// cache is unavailable, in which case the caller must fail open.
func (c *Cache) CountRequest(key string, window time.Duration) (count int64, remaining time.Duration, ok bool) {
	if c.client == nil {
		return 0, 0, false
	}

	ctx, cancel := c.opCtx()
	defer cancel()

	count, err := c.client.Incr(ctx, key)
	if err != nil {
		c.log.Warn("rate counter incr failed", zap.Error(err))
		return 0, 0, false
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window); err != nil {
			c.log.Warn("rate counter expire failed", zap.Error(err))
		}
		return count, window, true
	}

	remaining, err = c.client.TTL(ctx, key)
	if err != nil || remaining < 0 {
		// Key without a TTL (expire failed earlier); repair it
		_ = c.client.Expire(ctx, key, window)
		remaining = window
	}
	return count, remaining, true
}
