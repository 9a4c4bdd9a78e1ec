// Package netutil provides a DNS-cached dialer shared by outbound HTTP
// clients, so repeated model-provider calls do not hammer the resolver.
package netutil

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

var (
	globalResolver     *dnscache.Resolver
	globalResolverOnce sync.Once
)

const resolverRefreshTTL = 5 * time.Minute

// Resolver returns the process-wide caching DNS resolver.
func Resolver() *dnscache.Resolver {
	globalResolverOnce.Do(func() {
		log.Debug().Dur("ttl", resolverRefreshTTL).Msg("Initializing DNS resolver cache")
		globalResolver = &dnscache.Resolver{}

		// Periodic refresh keeps entries from going stale while preserving
		// the caching benefit.
		go func() {
			ticker := time.NewTicker(resolverRefreshTTL)
			defer ticker.Stop()
			for range ticker.C {
				globalResolver.Refresh(true)
			}
		}()
	})
	return globalResolver
}

// DialContextWithCache is a DialContext that resolves through the cache.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := Resolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}
