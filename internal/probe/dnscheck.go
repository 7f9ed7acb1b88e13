package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// DNS classes appended to a DOWN detail after a transport failure.
const (
	DNSResolves    = "RESOLVES"
	DNSNXDomain    = "NXDOMAIN"
	DNSNoARecord   = "NO_A_RECORD"
	DNSServfail    = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName = "INVALID_NAME"
)

var dnsTimeout = 3 * time.Second

// Resolver is the subset of *net.Resolver the diagnosis needs.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// DiagnoseDNS classifies host with the OS resolver.
func DiagnoseDNS(ctx context.Context, host string) string {
	return ClassifyDNS(ctx, net.DefaultResolver, host)
}

// ClassifyDNS tells apart "site down" from "name does not resolve".
func ClassifyDNS(ctx context.Context, r Resolver, host string) string {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return DNSInvalidName
	}
	if ip := net.ParseIP(host); ip != nil {
		return DNSResolves
	}

	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := r.LookupIP(ctx, "ip", host)
	if err == nil && len(ips) > 0 {
		return DNSResolves
	}

	class := DNSNXDomain
	var de *net.DNSError
	if err != nil && errors.As(err, &de) && !de.IsNotFound && (de.IsTemporary || de.Timeout()) {
		class = DNSServfail
	}

	// A zone with nameservers but no address records is misconfigured, not missing.
	if ns, nsErr := r.LookupNS(ctx, host); nsErr == nil && len(ns) > 0 && class == DNSNXDomain {
		class = DNSNoARecord
	}
	return class
}
