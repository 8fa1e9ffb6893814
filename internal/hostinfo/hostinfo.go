// Package hostinfo provides the cached host name resolution workers ask
// for through the host-info request.
package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a successful lookup is served from the cache.
	DefaultTTL = 300 * time.Second

	// DefaultSize is the maximum number of cached hosts.
	DefaultSize = 100
)

// ErrUnknownHost is an error that occurs when a host name has no addresses.
var ErrUnknownHost = errors.New("unknown host")

// Resolver is the underlying name resolution, satisfied by [net.Resolver].
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type cacheEntry struct {
	addrs []string
	at    time.Time
}

// Cache is a size and age bounded cache in front of a [Resolver].
// Concurrent lookups of the same host share one resolution.
type Cache struct {
	sync.Mutex

	resolver Resolver
	ttl      time.Duration
	size     int
	entries  map[string]cacheEntry
	group    singleflight.Group
	now      func() time.Time
}

// NewCache returns a pointer to a new [Cache]. A nil resolver uses
// [net.DefaultResolver].
func NewCache(resolver Resolver) *Cache {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return &Cache{
		resolver: resolver,
		ttl:      DefaultTTL,
		size:     DefaultSize,
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Lookup resolves a host name within timeout. IP literals are returned as
// they are without touching the cache.
func (c *Cache) Lookup(ctx context.Context, host string, timeout time.Duration) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	if addrs, ok := c.cached(host); ok {
		return addrs, nil
	}

	ch := c.group.DoChan(host, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		ipAddrs, err := c.resolver.LookupIPAddr(lctx, host)
		if err != nil {
			return nil, err
		}

		if len(ipAddrs) == 0 {
			return nil, ErrUnknownHost
		}

		addrs := make([]string, 0, len(ipAddrs))
		for _, a := range ipAddrs {
			addrs = append(addrs, a.IP.String())
		}
		c.store(host, addrs)

		return addrs, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("(hostinfo) %s: %w", host, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("(hostinfo) %s: %w", host, res.Err)
		}

		addrs, _ := res.Val.([]string)

		return addrs, nil
	}
}

// Len returns the number of cached hosts.
func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.entries)
}

func (c *Cache) cached(host string) ([]string, bool) {
	c.Lock()
	defer c.Unlock()

	e, ok := c.entries[host]
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.at) >= c.ttl {
		delete(c.entries, host)

		return nil, false
	}

	return e.addrs, true
}

func (c *Cache) store(host string, addrs []string) {
	c.Lock()
	defer c.Unlock()

	if _, exists := c.entries[host]; !exists && len(c.entries) >= c.size {
		var oldest string
		var oldestAt time.Time

		for h, e := range c.entries {
			if oldest == "" || e.at.Before(oldestAt) {
				oldest, oldestAt = h, e.at
			}
		}
		delete(c.entries, oldest)
	}

	c.entries[host] = cacheEntry{addrs: addrs, at: c.now()}
}
