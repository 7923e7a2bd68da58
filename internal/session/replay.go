package session

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// ReplayGuard remembers consumed state tokens for as long as their signed
// cookie could still verify, so a captured callback URL cannot be played
// twice. This is the only mutable in-process state of the gateway; the
// cache is safe for concurrent use.
type ReplayGuard struct {
	seen *cache.Cache
}

func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{seen: cache.New(ttl, 2*ttl)}
}

// MarkUsed records a state token and reports whether this was its first
// use. A second call with the same token returns false.
func (g *ReplayGuard) MarkUsed(state string) bool {
	return g.seen.Add(state, struct{}{}, cache.DefaultExpiration) == nil
}
