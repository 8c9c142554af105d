package scan

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/campushq/asset-server/pkg/s"
)

const cacheSize = 4096

// VerdictCache remembers non infected verdicts keyed by
// (bucket, key, etag). Because the etag changes with every overwrite
// the cache self invalidates without explicit eviction on write.
// A nil *VerdictCache is valid and caches nothing.
type VerdictCache struct {
	entries *expirable.LRU[string, s.ScanVerdict]
}

// NewVerdictCache returns nil when ttl is zero, disabling caching.
func NewVerdictCache(ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		return nil
	}
	return &VerdictCache{entries: expirable.NewLRU[string, s.ScanVerdict](cacheSize, nil, ttl)}
}

func cacheKey(bucket, key, etag string) string {
	return fmt.Sprintf("%s/%s@%s", bucket, key, etag)
}

func (c *VerdictCache) Get(bucket, key, etag string) (s.ScanVerdict, bool) {
	if c == nil {
		return s.ScanVerdict{}, false
	}
	return c.entries.Get(cacheKey(bucket, key, etag))
}

// Put stores a verdict. Infected verdicts are never cached, those
// objects are always rescanned.
func (c *VerdictCache) Put(bucket, key, etag string, verdict s.ScanVerdict) {
	if c == nil || verdict.Status == s.ScanStatusInfected {
		return
	}
	c.entries.Add(cacheKey(bucket, key, etag), verdict)
}

func (c *VerdictCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
