// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipaddr

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"greywall.dev/jaild/internal/clock"
)

// New parses the same (ipstr, cidr) text repeatedly — once per log
// line matched against a jail's failregex — so instances are cached,
// mirroring IPAddr.CACHE_OBJ's maxCount=10000/maxTime=5min eviction.
const (
	cacheMaxEntries = 10000
	cacheTTL        = 5 * time.Minute
)

type cacheEntry struct {
	ip      *IPAddr
	expires time.Time
}

var (
	cacheMu sync.Mutex
	cache   = lru.New(cacheMaxEntries)
)

func cacheGet(key string) (*IPAddr, bool) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	v, ok := cache.Get(key)
	if !ok {
		return nil, false
	}
	ent := v.(cacheEntry)
	if clock.Now().After(ent.expires) {
		cache.Remove(key)
		return nil, false
	}
	return ent.ip, true
}

func cacheSet(key string, ip *IPAddr) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache.Add(key, cacheEntry{ip: ip, expires: clock.Now().Add(cacheTTL)})
}

// resetCache clears the instance cache. Test-only.
func resetCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = lru.New(cacheMaxEntries)
}
