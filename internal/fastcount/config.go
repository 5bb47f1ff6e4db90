package fastcount

import "time"

const (
	// DefaultPrecacheEvery is the interval between precache passes.
	DefaultPrecacheEvery = 10 * time.Minute
	// DefaultCacheThreshold is the smallest live count cached retroactively.
	DefaultCacheThreshold = int64(1_000_000)
	// DefaultExpireAfter is the lifetime of cached counts.
	DefaultExpireAfter = 10 * time.Minute
	// MinLockTimeout is the floor for the precache advisory lock TTL.
	MinLockTimeout = 5 * time.Minute
)

// Config tunes one manager's caching and precache behaviour. Zero values are
// replaced with defaults; the lock timeout is derived from the precache
// interval unless set explicitly.
type Config struct {
	PrecacheCountEvery      time.Duration
	CacheCountsLargerThan   int64
	ExpireCachedCountsAfter time.Duration
	LockTimeout             time.Duration

	// Synchronous runs triggered precache passes inline instead of in a
	// background goroutine. Diagnostic use only.
	Synchronous bool
}

func (c Config) withDefaults() Config {
	if c.PrecacheCountEvery <= 0 {
		c.PrecacheCountEvery = DefaultPrecacheEvery
	}
	if c.CacheCountsLargerThan <= 0 {
		c.CacheCountsLargerThan = DefaultCacheThreshold
	}
	if c.ExpireCachedCountsAfter <= 0 {
		c.ExpireCachedCountsAfter = DefaultExpireAfter
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = deriveLockTimeout(c.PrecacheCountEvery)
	}
	return c
}

// deriveLockTimeout keeps the lock alive for one and a half precache
// intervals so a slow pass cannot overlap the next, with a five minute floor.
func deriveLockTimeout(every time.Duration) time.Duration {
	timeout := every + every/2
	if timeout < MinLockTimeout {
		timeout = MinLockTimeout
	}
	return timeout
}
