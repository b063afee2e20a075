// Package portscan implements the three port-probing techniques of §4.D:
// TCP connect, TCP SYN, and UDP. All three share the same output contract
// (one PortResult per probed port) and the same concurrency model: a
// per-host semaphore bounds intra-host parallelism, while every packet send
// is gated by a shared throttle.Controller.
package portscan

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/packet"
	"github.com/anstrom/osprey/internal/throttle"
)

// Technique names one of the three probing methods.
type Technique string

const (
	TechniqueTCPConnect Technique = "tcp_connect"
	TechniqueTCPSYN     Technique = "tcp_syn"
	TechniqueUDP        Technique = "udp"
)

// Status is a port's classification after probing.
type Status string

const (
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed"
	StatusFiltered     Status = "filtered"
	StatusOpenFiltered Status = "open|filtered"
)

// Provenance names the concrete evidence a Status was derived from (§8:
// "an Open verdict must be justified... recorded in its provenance
// field"), so a consumer can tell a completed TCP handshake apart from a
// bare SYN-ACK or an application-layer reply.
type Provenance string

const (
	ProvenanceTCPHandshake    Provenance = "tcp_handshake"
	ProvenanceSYNACK          Provenance = "syn_ack"
	ProvenanceRST             Provenance = "rst"
	ProvenanceServiceReply    Provenance = "service_reply"
	ProvenanceICMPUnreachable Provenance = "icmp_unreachable"
	ProvenanceNoResponse      Provenance = "no_response"
)

const (
	defaultPerHostConcurrency = 128
	defaultTimeout            = 3 * time.Second
	defaultRetries            = 2
	defaultUDPRetries         = 3
	defaultRetryDelay         = 100 * time.Millisecond
	maxRetryDelay             = 2 * time.Second
	defaultMaxBannerSize      = 4096
	defaultBannerTimeout      = 2 * time.Second
)

// Config tunes one technique's probing behavior (§6 [scanner.tcp_connect|
// tcp_syn|udp]).
type Config struct {
	PerHostConcurrency int
	Timeout            time.Duration
	Retries            int
	RetryDelay         time.Duration
	MaxBannerSize      int
	BannerTimeout      time.Duration
}

// DefaultConfig returns the documented defaults for technique, since UDP's
// retry count differs from TCP's (§4.D).
func DefaultConfig(technique Technique) Config {
	cfg := Config{
		PerHostConcurrency: defaultPerHostConcurrency,
		Timeout:            defaultTimeout,
		Retries:            defaultRetries,
		RetryDelay:         defaultRetryDelay,
		MaxBannerSize:      defaultMaxBannerSize,
		BannerTimeout:      defaultBannerTimeout,
	}
	if technique == TechniqueUDP {
		cfg.Retries = defaultUDPRetries
	}
	return cfg
}

// PortResult is the uniform output of every technique, one per probed port.
type PortResult struct {
	Host         net.IP
	Port         uint16
	Technique    Technique
	Status       Status
	Provenance   Provenance
	Banner       []byte
	ResponseTime time.Duration
	Error        error
}

// Scanner probes a set of ports on a host using one technique, sharing raw
// sockets and a throttle.Controller across every probe it issues.
type Scanner struct {
	cfg       Config
	throttler *throttle.Controller

	mu         sync.Mutex
	tcpSocket  packet.RawSocket
	icmpSocket packet.RawSocket
	rawReady   bool
}

// NewScanner creates a Scanner. If throttler is nil a default controller is
// created so Scanner is usable standalone.
func NewScanner(cfg Config, throttler *throttle.Controller) *Scanner {
	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = defaultPerHostConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxBannerSize <= 0 {
		cfg.MaxBannerSize = defaultMaxBannerSize
	}
	if cfg.BannerTimeout <= 0 {
		cfg.BannerTimeout = defaultBannerTimeout
	}
	if throttler == nil {
		throttler = throttle.New(throttle.DefaultConfig())
	}

	return &Scanner{cfg: cfg, throttler: throttler}
}

// openRawSockets lazily opens the raw sockets needed by TCP SYN and UDP.
// TCP connect needs none. A failure here is non-fatal: ScanPort for a
// raw-dependent technique will surface it per-port instead.
func (s *Scanner) openRawSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rawReady {
		return
	}
	s.rawReady = true

	if sock, err := packet.OpenRaw(packet.ProtoTCP); err == nil {
		s.tcpSocket = sock
	} else {
		logging.Warn("raw TCP socket unavailable, TCP SYN scanning disabled", "error", err)
	}
	if sock, err := packet.OpenRaw(packet.ProtoICMP); err == nil {
		s.icmpSocket = sock
	} else {
		logging.Warn("raw ICMP socket unavailable, ICMP unreachable classification disabled", "error", err)
	}
}

// Close releases any raw sockets the scanner opened.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpSocket != nil {
		_ = s.tcpSocket.Close()
	}
	if s.icmpSocket != nil {
		_ = s.icmpSocket.Close()
	}
	return nil
}

// ScanHost probes every port in ports on host using technique, with
// intra-host parallelism bounded by cfg.PerHostConcurrency (§5).
func (s *Scanner) ScanHost(
	ctx context.Context, host net.IP, ports []uint16, technique Technique,
) []PortResult {
	s.openRawSockets()

	results := make([]PortResult, len(ports))
	sem := make(chan struct{}, s.cfg.PerHostConcurrency)
	var wg sync.WaitGroup

	for i, port := range ports {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, port uint16) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = s.ScanPort(ctx, host, port, technique)
		}(i, port)
	}

	wg.Wait()
	return results
}

// ScanPort probes a single (host, port) with the given technique, retrying
// with exponential backoff up to cfg.Retries times (§4.D).
func (s *Scanner) ScanPort(ctx context.Context, host net.IP, port uint16, technique Technique) PortResult {
	start := time.Now()

	var probe func(context.Context, net.IP, uint16) (status Status, banner []byte, provenance Provenance, conclusive bool, err error)
	switch technique {
	case TechniqueTCPConnect:
		probe = s.tcpConnectProbe
	case TechniqueTCPSYN:
		probe = s.tcpSYNProbe
	case TechniqueUDP:
		probe = s.udpProbe
	default:
		return PortResult{Host: host, Port: port, Technique: technique, Status: StatusFiltered}
	}

	delay := s.cfg.RetryDelay
	var lastStatus Status
	var lastProvenance Provenance
	var lastBanner []byte
	var lastErr error

	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PortResult{Host: host, Port: port, Technique: technique, Status: StatusFiltered, Error: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		if err := s.throttler.Acquire(ctx); err != nil {
			return PortResult{Host: host, Port: port, Technique: technique, Status: StatusFiltered, Error: err}
		}

		status, banner, provenance, conclusive, err := probe(ctx, host, port)
		lastStatus, lastBanner, lastProvenance, lastErr = status, banner, provenance, err

		if err != nil {
			s.throttler.Report(throttle.Failure)
			continue
		}
		s.throttler.Report(throttle.Success)

		if conclusive {
			break
		}
	}

	result := PortResult{
		Host:         host,
		Port:         port,
		Technique:    technique,
		Status:       lastStatus,
		Provenance:   lastProvenance,
		Banner:       lastBanner,
		ResponseTime: time.Since(start),
		Error:        lastErr,
	}
	logging.InfoProbe("port probe complete", host.String(), port, "status", string(lastStatus), "technique", string(technique))
	return result
}
