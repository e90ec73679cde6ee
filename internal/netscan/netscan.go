// Package netscan implements the first two stages of the discovery
// pipeline over a CIDR range: host-address expansion, an ICMP-free
// liveness probe (TCP dial against a small set of common ports), and the
// authenticated-probe candidate's TCP reachability check.
//
// Both probe stages fan out with bounded concurrency via
// golang.org/x/sync/semaphore, matching the "cap >= 64" requirement for
// each pipeline stage.
package netscan

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultLivenessTimeout bounds a single liveness dial attempt.
	DefaultLivenessTimeout = 1 * time.Second
	// DefaultPortTimeout bounds a single TCP reachability dial attempt.
	DefaultPortTimeout = 5 * time.Second
	// DefaultPort is the reachability/SSH candidate port when a job
	// doesn't specify one.
	DefaultPort = 22
	// DefaultConcurrency is the per-stage fan-out cap.
	DefaultConcurrency = 64
	// MinPrefixLength is the narrowest (i.e. widest-range) prefix a
	// discovery job may target without an explicit opt-in, bounding the
	// wall-clock and resource footprint of a single scan.
	MinPrefixLength = 16
)

// livenessPorts are dialed in order; the first to accept is sufficient to
// declare a host alive. 22 covers the eventual SSH target directly, 80/443
// catch hosts that block SSH but run a web service.
var livenessPorts = []int{22, 80, 443}

// ExpandCIDR returns every usable host address in cidr, in ascending
// order. For IPv4 ranges it excludes the network and broadcast addresses
// when the prefix leaves room for them (/31 and /32 have no spare
// addresses to exclude, so both addresses in a /31 and the single address
// in a /32 are returned).
func ExpandCIDR(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse CIDR %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("only IPv4 ranges are supported, got %q", cidr)
	}

	prefix = prefix.Masked()
	bits := prefix.Bits()

	var addrs []string
	addr := prefix.Addr()
	for prefix.Contains(addr) {
		addrs = append(addrs, addr.String())
		addr = addr.Next()
		if !addr.IsValid() {
			break
		}
	}

	switch {
	case bits >= 31:
		// /31 (2 addresses) and /32 (1 address): no network/broadcast to
		// exclude, RFC 3021.
		return addrs, nil
	case len(addrs) <= 2:
		return addrs, nil
	default:
		return addrs[1 : len(addrs)-1], nil
	}
}

// PrefixBits returns the prefix length of an IPv4 CIDR string, for
// callers that need to bound how wide a range they'll accept before
// calling ExpandCIDR (see MinPrefixLength).
func PrefixBits(cidr string) (int, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return 0, fmt.Errorf("parse CIDR %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return 0, fmt.Errorf("only IPv4 ranges are supported, got %q", cidr)
	}
	return prefix.Bits(), nil
}

// LivenessResult is the outcome of probing one candidate address.
type LivenessResult struct {
	IPAddress string
	Alive     bool
}

// ProbeLiveness checks each address in addrs for liveness by attempting a
// TCP dial against a small set of common ports, fanning out with at most
// concurrency simultaneous dials. A host is alive if any port accepts a
// connection within timeout.
func ProbeLiveness(ctx context.Context, addrs []string, timeout time.Duration, concurrency int) []LivenessResult {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]LivenessResult, len(addrs))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, addr := range addrs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = LivenessResult{IPAddress: addr, Alive: false}
			continue
		}
		wg.Add(1)
		i, addr := i, addr
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = LivenessResult{IPAddress: addr, Alive: isAnyPortOpen(ctx, addr, livenessPorts, timeout)}
		}()
	}
	wg.Wait()

	return results
}

func isAnyPortOpen(ctx context.Context, addr string, ports []int, timeout time.Duration) bool {
	for _, port := range ports {
		if dialPort(ctx, addr, port, timeout) {
			return true
		}
	}
	return false
}

func dialPort(ctx context.Context, addr string, port int, timeout time.Duration) bool {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// PortResult is the outcome of probing one candidate address for
// reachability on a single target port (the eventual SSH port).
type PortResult struct {
	IPAddress string
	Port      int
	Open      bool
}

// ProbePorts checks each address in addrs for TCP reachability on port,
// fanning out with at most concurrency simultaneous dials.
func ProbePorts(ctx context.Context, addrs []string, port int, timeout time.Duration, concurrency int) []PortResult {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 || timeout > DefaultPortTimeout {
		timeout = DefaultPortTimeout
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]PortResult, len(addrs))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, addr := range addrs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = PortResult{IPAddress: addr, Port: port, Open: false}
			continue
		}
		wg.Add(1)
		i, addr := i, addr
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = PortResult{IPAddress: addr, Port: port, Open: dialPort(ctx, addr, port, timeout)}
		}()
	}
	wg.Wait()

	log.Printf("[netscan] probed %d candidates on port %d", len(addrs), port)
	return results
}
