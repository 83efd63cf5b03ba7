// Package dns resolves the signaling server's host with a fallback to public
// resolvers, for networks where the system resolver is broken (captive
// portals, some VPN setups).
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are queried if the system lookup fails.
var publicDNS = []string{
	"1.1.1.1",              // Cloudflare
	"1.0.0.1",              // Cloudflare
	"2606:4700:4700::1111", // Cloudflare
	"8.8.8.8",              // Google
	"8.8.4.4",              // Google
	"2001:4860:4860::8888", // Google
	"9.9.9.9",              // Quad9
	"149.112.112.112",      // Quad9
	"208.67.222.222",       // Cisco OpenDNS
	"208.67.220.220",       // Cisco OpenDNS
}

const (
	localTimeout  = 1 * time.Second
	remoteTimeout = 2 * time.Second
)

// Lookup resolves host to one IP address, preferring IPv4. IP literals are
// returned unchanged.
func Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ip, err := localLookup(ctx, host)
	if err == nil {
		return ip, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return remoteLookupWithRace(ctx, host)
}

// DialContext matches net.Dialer.DialContext and can be installed on an
// http.Transport or a websocket.Dialer.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func localLookup(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	var r net.Resolver
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

// remoteLookupWithRace asks every public resolver at once and takes the
// first answer.
func remoteLookupWithRace(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	results := make(chan result, len(publicDNS))
	for _, server := range publicDNS {
		go func(server string) {
			ip, err := remoteLookup(ctx, host, server)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("public dns race for %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public dns servers failed", host, failures)
}

func remoteLookup(ctx context.Context, host, server string) (string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

func pickIP(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
