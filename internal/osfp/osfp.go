// Package osfp implements the OS Fingerprint Collector (§4.F): up to seven
// independently configurable sub-vectors built from TCP, ICMP, and UDP
// probes, protocol-specific banners, TCP timestamp clock skew, externally
// fed passive observations, and an optional sixteen-packet active probe
// battery.
package osfp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/packet"
)

// Config toggles each sub-vector and bounds its probing.
type Config struct {
	EnableTCP           bool
	EnableICMP          bool
	EnableUDP           bool
	EnableProtocolHints bool
	EnableClockSkew     bool
	EnableActiveProbes  bool
	TCPTimeout          time.Duration
	ICMPTimeout         time.Duration
	UDPTimeout          time.Duration
	ProtocolTimeout     time.Duration
	ClockSkewSamples    int
	ClockSkewWindow     time.Duration
	ClockSkewMinSamples int
	ActiveProbeTimeout  time.Duration
}

// DefaultConfig mirrors §4.F's documented defaults. Active probes and
// passive collection are off by default: the former is explicitly
// "never enabled by default", the latter needs an external capture feed.
func DefaultConfig() Config {
	return Config{
		EnableTCP:           true,
		EnableICMP:          true,
		EnableUDP:           true,
		EnableProtocolHints: true,
		EnableClockSkew:     true,
		EnableActiveProbes:  false,
		TCPTimeout:          3 * time.Second,
		ICMPTimeout:         3 * time.Second,
		UDPTimeout:          3 * time.Second,
		ProtocolTimeout:     5 * time.Second,
		ClockSkewSamples:    20,
		ClockSkewWindow:     30 * time.Second,
		ClockSkewMinSamples: 10,
		ActiveProbeTimeout:  3 * time.Second,
	}
}

// Fingerprint is the collected feature vector for one target (§3
// OsFingerprint). Every sub-vector is a pointer so a disabled or failed
// collection leaves it nil rather than a zero-value struct the matcher
// would mistake for real data.
type Fingerprint struct {
	Target         net.IP
	TCPFeatures    *TCPFeatures
	ICMPFeatures   *ICMPFeatures
	UDPFeatures    *UDPFeatures
	ProtocolHints  *ProtocolHints
	ClockSkew      *ClockSkewAnalysis
	Passive        *PassiveFeatures
	ActiveProbes   *ActiveProbeResult
	CollectionTime time.Duration
}

// Collector runs the sub-vector probes, sharing raw sockets across them
// the same way discovery.Engine and portscan.Scanner do.
type Collector struct {
	cfg Config

	mu         sync.Mutex
	tcpSocket  packet.RawSocket
	icmpSocket packet.RawSocket
	rawReady   bool

	passive *PassiveFeatures
}

// NewCollector builds a Collector, filling zero-value fields from
// DefaultConfig.
func NewCollector(cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.TCPTimeout <= 0 {
		cfg.TCPTimeout = def.TCPTimeout
	}
	if cfg.ICMPTimeout <= 0 {
		cfg.ICMPTimeout = def.ICMPTimeout
	}
	if cfg.UDPTimeout <= 0 {
		cfg.UDPTimeout = def.UDPTimeout
	}
	if cfg.ProtocolTimeout <= 0 {
		cfg.ProtocolTimeout = def.ProtocolTimeout
	}
	if cfg.ClockSkewSamples <= 0 {
		cfg.ClockSkewSamples = def.ClockSkewSamples
	}
	if cfg.ClockSkewWindow <= 0 {
		cfg.ClockSkewWindow = def.ClockSkewWindow
	}
	if cfg.ClockSkewMinSamples <= 0 {
		cfg.ClockSkewMinSamples = def.ClockSkewMinSamples
	}
	if cfg.ActiveProbeTimeout <= 0 {
		cfg.ActiveProbeTimeout = def.ActiveProbeTimeout
	}
	return &Collector{cfg: cfg, passive: newPassiveFeatures()}
}

func (c *Collector) openRawSockets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rawReady {
		return
	}
	c.rawReady = true

	if sock, err := packet.OpenRaw(packet.ProtoTCP); err == nil {
		c.tcpSocket = sock
	} else {
		logging.Warn("raw TCP socket unavailable, TCP/active-probe fingerprinting disabled", "error", err)
	}
	if sock, err := packet.OpenRaw(packet.ProtoICMP); err == nil {
		c.icmpSocket = sock
	} else {
		logging.Warn("raw ICMP socket unavailable, ICMP fingerprinting disabled", "error", err)
	}
}

// Close releases any raw sockets the collector opened.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tcpSocket != nil {
		_ = c.tcpSocket.Close()
	}
	if c.icmpSocket != nil {
		_ = c.icmpSocket.Close()
	}
	return nil
}

// Observe feeds one externally captured packet into the passive
// accumulator (§4.F Passive features, §6 external capture source).
func (c *Collector) Observe(ip *packet.Ipv4Packet) {
	c.passive.observe(ip)
}

// Collect runs every enabled sub-vector against target and assembles the
// combined Fingerprint (§4.F, §3 OsFingerprint). openPort must be a
// confirmed-open TCP port; closedPort should be a confirmed-closed one,
// and defaults to openPort+1 when zero, matching the framework's own
// fallback.
func (c *Collector) Collect(ctx context.Context, target net.IP, openPort, closedPort uint16) Fingerprint {
	start := time.Now()
	c.openRawSockets()

	if closedPort == 0 {
		closedPort = openPort + 1
	}

	fp := Fingerprint{Target: target}

	if c.cfg.EnableTCP {
		if tf, err := c.collectTCP(ctx, target, openPort, closedPort); err == nil {
			fp.TCPFeatures = tf
		} else {
			logging.Warn("tcp fingerprinting failed", "target", target.String(), "error", err)
		}
	}
	if c.cfg.EnableICMP {
		if icf, err := c.collectICMP(ctx, target, closedPort); err == nil {
			fp.ICMPFeatures = icf
		} else {
			logging.Warn("icmp fingerprinting failed", "target", target.String(), "error", err)
		}
	}
	if c.cfg.EnableUDP {
		if uf, err := c.collectUDP(ctx, target, closedPort); err == nil {
			fp.UDPFeatures = uf
		} else {
			logging.Warn("udp fingerprinting failed", "target", target.String(), "error", err)
		}
	}
	if c.cfg.EnableProtocolHints {
		fp.ProtocolHints = c.collectProtocolHints(ctx, target, openPort)
	}
	if c.cfg.EnableClockSkew {
		if cs, err := c.collectClockSkew(ctx, target, openPort); err == nil {
			fp.ClockSkew = cs
		} else {
			logging.Warn("clock skew analysis failed", "target", target.String(), "error", err)
		}
	}
	if c.passive.hasObservations() {
		fp.Passive = c.passive.snapshot()
	}
	if c.cfg.EnableActiveProbes {
		fp.ActiveProbes = c.runActiveProbes(ctx, target, openPort, closedPort)
	}

	fp.CollectionTime = time.Since(start)
	return fp
}
