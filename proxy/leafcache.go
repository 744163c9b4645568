package proxy

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"

	"github.com/pwn2clown/bridgeburner/cert"
)

// LeafCache fronts cert.Leaf with a keyed, process-local cache so a
// busy proxy doesn't pay the RSA-2048 keygen cost on every CONNECT to
// the same authority (SPEC_FULL.md §4.9 / C9, the §9 design note's
// "leaf certificate caching" improvement). Grounded on
// examples/trusted-ca/trustedca.go's TrustedCA.GetCert: an lru.Cache
// guarded by a mutex, with singleflight.Group collapsing concurrent
// misses for the same key into one mint.
type LeafCache struct {
	ca *cert.Identity

	mu    sync.Mutex
	cache *lru.Cache
	group *singleflight.Group
}

// NewLeafCache builds a cache keyed by the exact authority string
// (host:port) used as a leaf's CommonName/SAN, holding up to
// maxEntries identities.
func NewLeafCache(ca *cert.Identity, maxEntries int) *LeafCache {
	return &LeafCache{
		ca:    ca,
		cache: lru.New(maxEntries),
		group: new(singleflight.Group),
	}
}

// Get returns the cached leaf for authority, minting and caching one on
// first use. Concurrent misses for the same authority collapse into a
// single mint via the singleflight.Group.
func (lc *LeafCache) Get(_ context.Context, authority string) (*cert.Identity, error) {
	lc.mu.Lock()
	if val, ok := lc.cache.Get(authority); ok {
		lc.mu.Unlock()
		identity, ok := val.(*cert.Identity)
		if !ok {
			return nil, errors.New("leafcache: cached value is not a *cert.Identity")
		}
		return identity, nil
	}
	lc.mu.Unlock()

	val, err := lc.group.Do(authority, func() (any, error) {
		identity, err := cert.Leaf(lc.ca, authority)
		if err != nil {
			return nil, err
		}
		lc.mu.Lock()
		lc.cache.Add(authority, identity)
		lc.mu.Unlock()
		return identity, nil
	})
	if err != nil {
		return nil, err
	}

	identity, ok := val.(*cert.Identity)
	if !ok {
		return nil, errors.New("leafcache: minted value is not a *cert.Identity")
	}
	return identity, nil
}
