// Package discovery implements "find my authority" over mDNS: a replica
// with no configured authority URL can browse the local network for one
// advertising itself via zeroconf.Register/zeroconf.NewResolver.
package discovery

import (
	"context"
	"fmt"
	"log"

	"github.com/grandcat/zeroconf"
)

// Advertise registers this authority instance on the local network so
// replicas without a configured URL can find it. Used by cmd/authority
// when mDNS advertisement is enabled.
func Advertise(serviceName, instance string, port int) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(instance, serviceName, "local.", port,
		[]string{"schemaVersion=1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: advertise: %w", err)
	}
	return server, nil
}

// FindAuthority browses the local network for an authority advertising
// serviceName and returns the first endpoint found, or an error if none
// answers before ctx is done.
func FindAuthority(ctx context.Context, serviceName string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 1)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			found <- fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port)
			return
		}
	}()

	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}

	select {
	case url := <-found:
		return url, nil
	case <-ctx.Done():
		log.Printf("discovery: no authority found advertising %s before timeout", serviceName)
		return "", ctx.Err()
	}
}
