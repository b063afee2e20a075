// Package orchestrator implements the Scan Orchestrator (§4.H): it plans
// and drives a scan end to end, normalizing inputs, running discovery,
// port scanning, service detection, and OS fingerprinting in sequence
// for each target, and emitting one HostResult per target.
package orchestrator

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/osprey/internal/config"
	"github.com/anstrom/osprey/internal/discovery"
	"github.com/anstrom/osprey/internal/errors"
	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/osfp"
	"github.com/anstrom/osprey/internal/packet"
	"github.com/anstrom/osprey/internal/portscan"
	"github.com/anstrom/osprey/internal/service"
	"github.com/anstrom/osprey/internal/sigdb"
	"github.com/anstrom/osprey/internal/throttle"
)

// HostStatus is a target's overall liveness verdict (§3 HostResult).
type HostStatus string

const (
	HostUp      HostStatus = "Up"
	HostDown    HostStatus = "Down"
	HostUnknown HostStatus = "Unknown"
)

const defaultHostConcurrency = 64

// HostResult is the orchestrator's output for one target (§3 HostResult).
type HostResult struct {
	ScanID       uuid.UUID
	Target       string
	Status       HostStatus
	PortResults  []portscan.PortResult
	Services     map[uint16]service.Match
	OSMatches    *sigdb.MatchResult
	ScanDuration time.Duration
	Error        error
}

// Orchestrator drives a complete scan: normalize, discover, scan ports,
// detect services, fingerprint the OS, and assemble HostResults (§4.H).
type Orchestrator struct {
	discovery *discovery.Engine
	scanners  map[portscan.Technique]*portscan.Scanner
	detector  *service.Detector
	collector *osfp.Collector
	sigDB     *sigdb.Database
	throttler *throttle.Controller

	enableServiceDetection bool
	enableOSFingerprint    bool
	matchThreshold         float64
	hostConcurrency        int
	rawAvailable           bool
}

// New builds an Orchestrator wiring every configured technique, the
// service detector, the OS fingerprint collector, and the signature
// database from cfg. sigDB may be nil: the orchestrator then matches
// against the curated built-in signature set (§4.G, "ship a small
// curated built-in set"); a non-nil sigDB is merged on top of the
// built-ins, its entries winning on (os_name, os_version) conflicts, so
// a user-supplied --sigdb file extends rather than replaces the default.
func New(cfg *config.Config, sigDB *sigdb.Database) *Orchestrator {
	throttler := throttle.New(throttle.Config{
		InitialPPS:       float64(cfg.Scanner.InitialPPS),
		MaxPPS:           float64(cfg.Scanner.MaxPPS),
		MinPPS:           float64(cfg.Scanner.MinPPS),
		SuccessThreshold: float64(cfg.Throttling.SuccessThreshold),
		FailureThreshold: float64(cfg.Throttling.FailureThreshold),
		RateIncrease:     float64(cfg.Throttling.RateIncreaseFactor),
		RateDecrease:     float64(cfg.Throttling.RateDecreaseFactor),
	})

	o := &Orchestrator{
		discovery: discovery.NewEngine(discovery.DefaultConfig(), throttler),
		scanners:  make(map[portscan.Technique]*portscan.Scanner),
		throttler: throttler,

		enableServiceDetection: cfg.Detection.EnableServiceDetection,
		enableOSFingerprint:    cfg.OSFingerprint.EnableTCP || cfg.OSFingerprint.EnableICMP || cfg.OSFingerprint.EnableUDP,
		matchThreshold:         float64(cfg.OSFingerprint.FuzzyMatchThreshold),
		hostConcurrency:        defaultHostConcurrency,
		sigDB:                  sigdb.Merge(sigdb.Builtin(), sigDB),
	}

	o.rawAvailable = probeRawPrivilege()

	if cfg.TCPConnect.Enabled {
		o.scanners[portscan.TechniqueTCPConnect] = portscan.NewScanner(portscan.Config{
			Timeout:    cfg.TCPConnect.Timeout(),
			Retries:    int(cfg.TCPConnect.Retries),
			RetryDelay: time.Duration(cfg.TCPConnect.RetryDelayMS) * time.Millisecond,
		}, throttler)
	}
	if cfg.TCPSYN.Enabled && o.rawAvailable {
		o.scanners[portscan.TechniqueTCPSYN] = portscan.NewScanner(portscan.Config{
			Timeout:    cfg.TCPSYN.Timeout(),
			Retries:    int(cfg.TCPSYN.Retries),
			RetryDelay: time.Duration(cfg.TCPSYN.RetryDelayMS) * time.Millisecond,
		}, throttler)
	} else if cfg.TCPSYN.Enabled {
		logging.Warn("TCP SYN scanning requires raw socket privilege, falling back to TCP connect")
	}
	if cfg.UDP.Enabled {
		o.scanners[portscan.TechniqueUDP] = portscan.NewScanner(portscan.Config{
			Timeout:    cfg.UDP.Timeout(),
			Retries:    int(cfg.UDP.Retries),
			RetryDelay: time.Duration(cfg.UDP.RetryDelayMS) * time.Millisecond,
		}, throttler)
	}

	if o.enableServiceDetection {
		o.detector = service.NewDetector(service.Config{
			MaxBannerSize:       int(cfg.Detection.MaxBannerSize),
			BannerTimeout:       time.Duration(cfg.Detection.BannerTimeoutMS) * time.Millisecond,
			ConfidenceThreshold: float64(cfg.OSFingerprint.ConfidenceThreshold),
		})
	}

	if o.enableOSFingerprint {
		o.collector = osfp.NewCollector(osfp.Config{
			EnableTCP:           cfg.OSFingerprint.EnableTCP,
			EnableICMP:          cfg.OSFingerprint.EnableICMP,
			EnableUDP:           cfg.OSFingerprint.EnableUDP,
			EnableProtocolHints: cfg.OSFingerprint.EnableProtocol,
			EnableClockSkew:     cfg.OSFingerprint.EnableClockSkew,
			EnableActiveProbes:  cfg.OSFingerprint.EnableActiveProbes,
			ClockSkewSamples:    int(cfg.OSFingerprint.ClockSkewSamples),
		})
	}

	return o
}

// probeRawPrivilege tests whether the process can open a raw socket,
// so the orchestrator can downgrade TCP SYN to TCP connect rather than
// fail outright when run unprivileged (§4.H normalize: "validate
// technique availability against current privileges").
func probeRawPrivilege() bool {
	sock, err := packet.OpenRaw(packet.ProtoTCP)
	if err != nil {
		return false
	}
	_ = sock.Close()
	return true
}

// technique returns the scanner to use for portscanning, preferring TCP
// SYN over TCP connect when both are configured, since SYN scanning is
// quieter and faster (§4.D).
func (o *Orchestrator) technique() (portscan.Technique, *portscan.Scanner, bool) {
	if s, ok := o.scanners[portscan.TechniqueTCPSYN]; ok {
		return portscan.TechniqueTCPSYN, s, true
	}
	if s, ok := o.scanners[portscan.TechniqueTCPConnect]; ok {
		return portscan.TechniqueTCPConnect, s, true
	}
	return "", nil, false
}

// Run drives a complete scan over targets and portSpec end to end (§4.H
// steps 1-6). It normalizes targets and ports, discovers liveness,
// port-scans each live host, runs service detection and OS
// fingerprinting where enabled, and returns one HostResult per target.
// A cancelled ctx still returns partial results for targets already
// completed.
func (o *Orchestrator) Run(ctx context.Context, targets []string, portSpec string) ([]HostResult, error) {
	return o.RunStreaming(ctx, targets, portSpec, nil)
}

// RunStreaming behaves exactly like Run, except onResult, when non-nil, is
// invoked once per target as soon as that target's HostResult is ready,
// rather than only after every target has finished. internal/api uses this
// to stream results over a websocket as a run progresses.
func (o *Orchestrator) RunStreaming(
	ctx context.Context, targets []string, portSpec string, onResult func(HostResult),
) ([]HostResult, error) {
	scanID := uuid.New()
	start := time.Now()

	ports, err := ParsePortSpec(portSpec)
	if err != nil {
		return nil, err
	}
	targets = dedupe(targets)

	logging.InfoScan("scan started", scanID.String(), "targets", len(targets), "ports", len(ports))

	discoveryResults, err := o.discovery.Discover(ctx, targets)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeDiscoveryFailed, "discovery phase failed", err)
	}
	upByTarget := make(map[string]discovery.Result, len(discoveryResults))
	for i, r := range discoveryResults {
		if i < len(targets) {
			upByTarget[targets[i]] = r
		}
	}

	results := make([]HostResult, len(targets))
	sem := make(chan struct{}, o.hostConcurrency)
	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, target string) {
			defer wg.Done()
			defer func() { <-sem }()
			result := o.scanHost(ctx, scanID, target, upByTarget[target], ports)
			results[idx] = result
			if onResult != nil {
				onResult(result)
			}
		}(i, target)
	}
	wg.Wait()

	logging.InfoScan("scan completed", scanID.String(), "duration", time.Since(start))
	return results, nil
}

func dedupe(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// scanHost runs the port scan, service detection, and OS fingerprint
// phases for one target (§4.H steps 3-5).
func (o *Orchestrator) scanHost(
	ctx context.Context, scanID uuid.UUID, target string, discovered discovery.Result, ports []uint16,
) HostResult {
	start := time.Now()
	result := HostResult{ScanID: scanID, Target: target, Status: HostUnknown}

	host := discovered.IPAddress
	if host == nil {
		host = net.ParseIP(target)
	}
	if host == nil {
		result.Error = errors.ErrInvalidTarget(target)
		result.ScanDuration = time.Since(start)
		return result
	}

	if !discovered.Up {
		result.Status = HostDown
		result.ScanDuration = time.Since(start)
		return result
	}
	result.Status = HostUp

	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		result.ScanDuration = time.Since(start)
		return result
	default:
	}

	tech, scanner, ok := o.technique()
	if ok {
		result.PortResults = scanner.ScanHost(ctx, host, ports, tech)
	}
	if udpScanner, ok := o.scanners[portscan.TechniqueUDP]; ok {
		result.PortResults = append(result.PortResults, udpScanner.ScanHost(ctx, host, ports, portscan.TechniqueUDP)...)
	}

	if o.enableServiceDetection && o.detector != nil {
		result.Services = o.detectServices(ctx, host, result.PortResults)
	}

	if o.enableOSFingerprint && o.collector != nil {
		result.OSMatches = o.fingerprintHost(ctx, host, result.PortResults)
	}

	result.ScanDuration = time.Since(start)
	return result
}

// detectServices runs §4.E over every open port found in portResults.
func (o *Orchestrator) detectServices(ctx context.Context, host net.IP, portResults []portscan.PortResult) map[uint16]service.Match {
	matches := make(map[uint16]service.Match)
	for _, pr := range portResults {
		if pr.Status != portscan.StatusOpen {
			continue
		}
		if pr.Technique == portscan.TechniqueUDP {
			matches[pr.Port] = o.detector.DetectUDP(host, pr.Port, pr.Banner)
			continue
		}

		conn, err := dialTCP(ctx, host, pr.Port)
		if err != nil {
			logging.ErrorProbe("service detection dial failed", host.String(), pr.Port, err)
			continue
		}
		matches[pr.Port] = o.detector.DetectTCP(ctx, conn, host, pr.Port)
		_ = conn.Close()
	}
	return matches
}

func dialTCP(ctx context.Context, host net.IP, port uint16) (net.Conn, error) {
	dialer := net.Dialer{}
	return dialer.DialContext(ctx, "tcp", net.JoinHostPort(host.String(), strconv.Itoa(int(port))))
}

// fingerprintHost picks an open and a closed port to anchor the OS
// fingerprint probes on, then matches the collected vector against the
// signature database (§4.H step 5, §4.G match).
func (o *Orchestrator) fingerprintHost(ctx context.Context, host net.IP, portResults []portscan.PortResult) *sigdb.MatchResult {
	openPort, closedPort := pickAnchorPorts(portResults)
	if openPort == 0 || closedPort == 0 {
		return nil
	}

	fp := o.collector.Collect(ctx, host, openPort, closedPort)
	if o.sigDB == nil {
		return nil
	}

	match := sigdb.Match(&fp, o.sigDB, o.matchThreshold)
	return &match
}

func pickAnchorPorts(portResults []portscan.PortResult) (openPort, closedPort uint16) {
	sort.Slice(portResults, func(i, j int) bool { return portResults[i].Port < portResults[j].Port })
	for _, pr := range portResults {
		switch pr.Status {
		case portscan.StatusOpen:
			if openPort == 0 {
				openPort = pr.Port
			}
		case portscan.StatusClosed:
			if closedPort == 0 {
				closedPort = pr.Port
			}
		}
	}
	return openPort, closedPort
}

// Close releases every scanner's raw sockets.
func (o *Orchestrator) Close() error {
	for _, s := range o.scanners {
		_ = s.Close()
	}
	return o.discovery.Close()
}
