// Package service implements the Service Detector (§4.E): banner
// collection over a confirmed-open port followed by ServiceSignature
// matching with confidence scoring.
package service

import (
	"context"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/logging"
)

const (
	defaultMaxBannerSize           = 1024
	defaultBannerTimeout           = 5 * time.Second
	defaultServiceConfidenceThresh = 0.5
	unknownServiceName             = "unknown"
)

// Config governs banner collection and match acceptance (§4.E, §6).
type Config struct {
	MaxBannerSize       int
	BannerTimeout       time.Duration
	ConfidenceThreshold float64
	Signatures          []Signature
}

// DefaultConfig returns the documented defaults plus the built-in
// signature set.
func DefaultConfig() Config {
	return Config{
		MaxBannerSize:       defaultMaxBannerSize,
		BannerTimeout:       defaultBannerTimeout,
		ConfidenceThreshold: defaultServiceConfidenceThresh,
		Signatures:          DefaultSignatures(),
	}
}

// Match is the detector's verdict for one (host, port) (§4.E steps 4-5).
type Match struct {
	Service string
	Version string
	Score   float64
	Banner  []byte
}

// Detector runs banner collection and signature matching.
type Detector struct {
	cfg Config
}

// NewDetector builds a Detector, filling zero-value fields from
// DefaultConfig the way the other components' constructors do.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MaxBannerSize <= 0 {
		cfg.MaxBannerSize = def.MaxBannerSize
	}
	if cfg.BannerTimeout <= 0 {
		cfg.BannerTimeout = def.BannerTimeout
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if len(cfg.Signatures) == 0 {
		cfg.Signatures = def.Signatures
	}
	return &Detector{cfg: cfg}
}

// DetectTCP collects a banner over conn (reused from the TCP Connect
// technique, or freshly dialed by the caller) and matches it against the
// signature set. Port 443 is routed to the TLS handshake path instead of
// a plaintext banner grab.
func (d *Detector) DetectTCP(ctx context.Context, conn net.Conn, host net.IP, port uint16) Match {
	if port == 443 || port == 8443 {
		if banner, err := grabTLSBanner(ctx, host, port, d.cfg.BannerTimeout); err == nil {
			return d.matchBanner(port, banner.Raw)
		}
		logging.ErrorProbe("tls banner grab failed", host.String(), port, nil)
	}

	banner, err := grabBanner(ctx, conn, port, d.cfg.MaxBannerSize, d.cfg.BannerTimeout)
	if err != nil {
		logging.ErrorProbe("banner grab failed", host.String(), port, err)
		return Match{Service: unknownServiceName, Banner: banner}
	}
	return d.matchBanner(port, banner)
}

// DetectUDP classifies a UDP service, either from a raw reply already
// collected by the port scanner (DNS) or by issuing its own request
// (SNMP), since the two protocols need different amounts of protocol
// awareness to confirm a real service is behind the port.
func (d *Detector) DetectUDP(host net.IP, port uint16, existingBanner []byte) Match {
	switch port {
	case 53:
		if synthetic, ok := classifyDNSReply(existingBanner); ok {
			return d.matchBanner(port, []byte(synthetic))
		}
		return Match{Service: unknownServiceName, Banner: existingBanner}
	case 161:
		descr, err := querySNMP(host, port, d.cfg.BannerTimeout)
		if err != nil {
			logging.ErrorProbe("snmp probe failed", host.String(), port, err)
			return Match{Service: unknownServiceName}
		}
		return d.matchBanner(port, []byte(descr))
	default:
		return d.matchBanner(port, existingBanner)
	}
}

// matchBanner implements §4.E steps 4-5: score every signature, keep the
// highest, tie-break on preferred_ports, and fall back to Unknown below
// the confidence threshold.
func (d *Detector) matchBanner(port uint16, banner []byte) Match {
	text := string(banner)
	best := Match{Service: unknownServiceName, Banner: banner}
	bestPrefers := false

	for _, sig := range d.cfg.Signatures {
		strength, version := sig.match(text)
		if strength == StrengthNone {
			continue
		}
		score := float64(strength) * sig.ConfidenceWeight
		prefers := sig.prefersPort(port)

		better := score > best.Score
		tie := score == best.Score && prefers && !bestPrefers
		if better || tie {
			best = Match{Service: sig.Name, Version: version, Score: score, Banner: banner}
			bestPrefers = prefers
		}
	}

	if best.Score < d.cfg.ConfidenceThreshold {
		return Match{Service: unknownServiceName, Score: best.Score, Banner: banner}
	}
	return best
}
