package api

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service the order server announces
const ServiceType = "_posserver._tcp"

// Discover browses the local network for an order server and returns the
// base URL of the first one that answers within timeout.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return "", fmt.Errorf("failed to browse for %s: %w", ServiceType, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no order server found on the local network within %s", timeout)
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no order server found on the local network within %s", timeout)
			}
			if url := entryURL(entry); url != "" {
				return url, nil
			}
		}
	}
}

func entryURL(entry *zeroconf.ServiceEntry) string {
	if entry == nil || entry.Port == 0 {
		return ""
	}
	if len(entry.AddrIPv4) > 0 {
		return fmt.Sprintf("http://%s:%d", entry.AddrIPv4[0], entry.Port)
	}
	if len(entry.AddrIPv6) > 0 {
		return fmt.Sprintf("http://[%s]:%d", entry.AddrIPv6[0], entry.Port)
	}
	return ""
}
