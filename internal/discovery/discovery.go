// Package discovery determines host liveness by trying ARP, ICMP, TCP and
// UDP probes in order and accepting the first positive evidence (§4.C).
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/anstrom/osprey/internal/errors"
	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/packet"
	"github.com/anstrom/osprey/internal/throttle"
)

const (
	defaultConcurrency = 50
	defaultTimeout     = 1 * time.Second
	defaultRetries     = 1
	defaultUDPPort     = 40125 // high, almost certainly closed, port for the UDP ping
)

var defaultTCPPorts = []uint16{80, 443, 22}

// Method names the probe technique that produced a positive result.
type Method string

const (
	MethodARP     Method = "arp"
	MethodICMP    Method = "icmp"
	MethodTCP     Method = "tcp"
	MethodUDP     Method = "udp"
	MethodUnknown Method = ""
)

// Config tunes a discovery run.
type Config struct {
	Concurrency int
	Timeout     time.Duration
	Retries     int
	TCPPorts    []uint16
	UDPPort     uint16
}

// DefaultConfig returns §4.C's documented defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: defaultConcurrency,
		Timeout:     defaultTimeout,
		Retries:     defaultRetries,
		TCPPorts:    defaultTCPPorts,
		UDPPort:     defaultUDPPort,
	}
}

// Result is the liveness verdict for a single target.
type Result struct {
	IPAddress    net.IP
	Up           bool
	Method       Method
	ResponseTime time.Duration
	Error        error
}

// Engine runs host discovery across a set of targets, bounding concurrency
// with a shared throttle.Controller and falling back gracefully when raw
// sockets are unavailable (e.g. running without elevated privilege).
type Engine struct {
	cfg       Config
	throttler *throttle.Controller

	mu         sync.Mutex
	icmpSocket packet.RawSocket
	tcpSocket  packet.RawSocket
	rawReady   bool
}

// NewEngine creates a discovery Engine. If throttler is nil a default
// controller is created so Engine is always usable standalone.
func NewEngine(cfg Config, throttler *throttle.Controller) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.TCPPorts) == 0 {
		cfg.TCPPorts = defaultTCPPorts
	}
	if cfg.UDPPort == 0 {
		cfg.UDPPort = defaultUDPPort
	}
	if throttler == nil {
		throttler = throttle.New(throttle.DefaultConfig())
	}

	return &Engine{cfg: cfg, throttler: throttler}
}

// SetConcurrency overrides the number of targets probed in parallel.
func (e *Engine) SetConcurrency(concurrency int) {
	e.cfg.Concurrency = concurrency
}

// SetTimeout overrides the per-method probe timeout.
func (e *Engine) SetTimeout(timeout time.Duration) {
	e.cfg.Timeout = timeout
}

// openRawSockets lazily opens the ICMP and raw-TCP sockets shared by every
// probeHost call. Raw TCP is frequently unavailable without elevated
// privilege; when it fails to open, TCP ping degrades to a normal connect
// (§4.A's "caller decides whether to fall back" contract) instead of
// failing discovery outright.
func (e *Engine) openRawSockets() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rawReady {
		return
	}
	e.rawReady = true

	icmpSock, err := packet.OpenRaw(packet.ProtoICMP)
	if err != nil {
		logging.ErrorDiscovery("failed to open raw ICMP socket, ICMP and UDP ping degraded", "", err)
	} else {
		e.icmpSocket = icmpSock
	}

	tcpSock, err := packet.OpenRaw(packet.ProtoTCP)
	if err != nil {
		logging.InfoDiscovery("raw TCP socket unavailable, TCP ping falling back to connect", "")
	} else {
		e.tcpSocket = tcpSock
	}
}

// Close releases any raw sockets the engine opened.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.icmpSocket != nil {
		_ = e.icmpSocket.Close()
	}
	if e.tcpSocket != nil {
		_ = e.tcpSocket.Close()
	}
	return nil
}

// Discover classifies every target in targets as Up or Down, running probes
// with concurrency bounded by cfg.Concurrency and every packet send gated by
// the shared throttle.Controller.
func (e *Engine) Discover(ctx context.Context, targets []string) ([]Result, error) {
	e.openRawSockets()

	results := make([]Result, len(targets))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, target := range targets {
		ip := net.ParseIP(target)
		if ip == nil {
			results[i] = Result{Error: errors.ErrInvalidTarget(target)}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, ip net.IP) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.probeHost(ctx, ip)
		}(i, ip)
	}

	wg.Wait()
	return results, nil
}

// probeHost tries ARP, ICMP, TCP then UDP in order and stops at the first
// method that proves liveness (§4.C).
func (e *Engine) probeHost(ctx context.Context, ip net.IP) Result {
	start := time.Now()

	type probe struct {
		method Method
		fn     func(context.Context, net.IP) (bool, error)
	}
	probes := []probe{
		{MethodARP, e.probeARP},
		{MethodICMP, e.probeICMP},
		{MethodTCP, e.probeTCP},
		{MethodUDP, e.probeUDP},
	}

	for _, p := range probes {
		select {
		case <-ctx.Done():
			return Result{IPAddress: ip, Error: ctx.Err()}
		default:
		}

		up, err := e.withRetries(ctx, ip, p.fn)
		if err != nil {
			logging.ErrorDiscovery("probe failed", ip.String(), err, "method", string(p.method))
			continue
		}
		if up {
			logging.InfoDiscovery("host is up", ip.String(), "method", string(p.method))
			return Result{IPAddress: ip, Up: true, Method: p.method, ResponseTime: time.Since(start)}
		}
	}

	return Result{IPAddress: ip, Up: false, Method: MethodUnknown, ResponseTime: time.Since(start)}
}

// withRetries runs fn up to cfg.Retries+1 times, acquiring the shared
// throttle before each attempt and reporting the outcome back to it.
func (e *Engine) withRetries(
	ctx context.Context, ip net.IP, fn func(context.Context, net.IP) (bool, error),
) (bool, error) {
	var lastErr error

	attempts := e.cfg.Retries + 1
	for i := 0; i < attempts; i++ {
		if err := e.throttler.Acquire(ctx); err != nil {
			return false, err
		}

		up, err := fn(ctx, ip)
		if err != nil {
			e.throttler.Report(throttle.Failure)
			lastErr = err
			continue
		}

		e.throttler.Report(throttle.Success)
		if up {
			return true, nil
		}
		lastErr = nil
	}

	return false, lastErr
}
