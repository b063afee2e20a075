package osfp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/zmap/zcrypto/ja3"
	ztls "github.com/zmap/zcrypto/tls"
)

// SSHHints is the parsed SSH banner sub-vector (§4.F Protocol hints).
type SSHHints struct {
	Banner  string
	OSHints []string
}

// HTTPHints is the parsed HTTP Server-header sub-vector.
type HTTPHints struct {
	ServerHeader string
	OSHints      []string
}

// TLSHints is the handshake-derived sub-vector.
type TLSHints struct {
	JA3     string
	Subject string
	OSHints []string
}

// ProtocolHints bundles every application-layer OS hint collected against
// one target (§4.F Protocol hints).
type ProtocolHints struct {
	SSH  *SSHHints
	SMB  *SMBAttempted
	HTTP *HTTPHints
	TLS  *TLSHints
}

// SMBAttempted records that an SMB negotiate was attempted; a full SMB2
// dialect negotiation is out of scope for the raw probes this package
// otherwise relies on, so this only reports reachability.
type SMBAttempted struct {
	Negotiated bool
}

// collectProtocolHints probes whichever application ports are reachable
// and classifies the resulting banners. openPort doubles as the SSH port
// when it is 22; HTTP, HTTPS, and SMB are tried at their well-known ports
// regardless, matching the Rust original's per-protocol analyze calls.
func (c *Collector) collectProtocolHints(ctx context.Context, target net.IP, openPort uint16) *ProtocolHints {
	hints := &ProtocolHints{}

	sshPort := uint16(22)
	if banner, err := grabLineBanner(ctx, target, sshPort, c.cfg.ProtocolTimeout); err == nil {
		hints.SSH = &SSHHints{Banner: banner, OSHints: parseSSHBanner(banner)}
	}

	if negotiated := probeSMBNegotiate(ctx, target, 445, c.cfg.ProtocolTimeout); negotiated {
		hints.SMB = &SMBAttempted{Negotiated: true}
	}

	httpPort := uint16(80)
	if server, err := probeHTTPServerHeader(ctx, target, httpPort, c.cfg.ProtocolTimeout); err == nil {
		hints.HTTP = &HTTPHints{ServerHeader: server, OSHints: parseHTTPServerHeader(server)}
	}

	if tls, err := probeTLSHints(ctx, target, 443, c.cfg.ProtocolTimeout); err == nil {
		hints.TLS = tls
	}

	return hints
}

// grabLineBanner connects and reads one newline-terminated line, the shape
// an SSH greeting or similar line-oriented banner takes.
func grabLineBanner(ctx context.Context, target net.IP, port uint16, timeout time.Duration) (string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// probeSMBNegotiate opens a TCP connection to the SMB port and reports
// whether the target accepted it; a full dialect negotiation needs a
// stateful SMB2 client this package doesn't carry.
func probeSMBNegotiate(ctx context.Context, target net.IP, port uint16, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

// probeHTTPServerHeader issues a bare HTTP/1.0 GET and extracts the
// Server response header.
func probeHTTPServerHeader(ctx context.Context, target net.IP, port uint16, timeout time.Duration) (string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte("GET / HTTP/1.0\r\nHost: " + target.String() + "\r\n\r\n")); err != nil {
		return "", err
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return "", err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return "", fmt.Errorf("no Server header from %s:%d", target, port)
		}
		if name, value, ok := strings.Cut(trimmed, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "server") {
			return strings.TrimSpace(value), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// probeTLSHints performs a TLS handshake using zcrypto's introspecting
// client, the same approach internal/service uses for its own JA3
// extraction, reused here against the OS-hint use case instead of service
// identification.
func probeTLSHints(ctx context.Context, target net.IP, port uint16, timeout time.Duration) (*TLSHints, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	_ = raw.SetDeadline(time.Now().Add(timeout))

	cfg := &ztls.Config{InsecureSkipVerify: true, ServerName: target.String()}
	conn := ztls.Client(raw, cfg)
	if err := conn.Handshake(); err != nil {
		return nil, err
	}

	state := conn.ConnectionState()
	hints := &TLSHints{}
	if state.HandshakeLog != nil && state.HandshakeLog.ClientHello != nil {
		hints.JA3 = ja3.DigestHex(state.HandshakeLog.ClientHello)
	}
	if len(state.PeerCertificates) > 0 {
		hints.Subject = state.PeerCertificates[0].Subject.CommonName
	}
	if state.Version >= ztls.VersionTLS13 {
		hints.OSHints = append(hints.OSHints, "modern OS (TLS 1.3)")
	}
	return hints, nil
}

// parseSSHBanner maps a raw SSH greeting to coarse OS hints, grounded on
// the same substring rules as the original's parse_ssh_banner.
func parseSSHBanner(banner string) []string {
	var hints []string
	switch {
	case strings.Contains(banner, "Ubuntu"):
		hints = append(hints, "Ubuntu Linux")
	case strings.Contains(banner, "Debian"):
		hints = append(hints, "Debian Linux")
	case strings.Contains(banner, "Windows"):
		hints = append(hints, "Windows")
	case strings.Contains(banner, "CentOS") || strings.Contains(banner, "el7") || strings.Contains(banner, "el8"):
		hints = append(hints, "CentOS/RHEL")
	case strings.Contains(banner, "FreeBSD"):
		hints = append(hints, "FreeBSD")
	case strings.Contains(banner, "Sun_SSH"):
		hints = append(hints, "Solaris")
	case strings.Contains(banner, "OpenSSH"):
		hints = append(hints, "Unix-like (OpenSSH)")
	}
	return hints
}

// parseHTTPServerHeader maps a raw Server header to coarse OS hints.
func parseHTTPServerHeader(server string) []string {
	var hints []string
	switch {
	case strings.Contains(server, "Ubuntu"):
		hints = append(hints, "Ubuntu Linux")
	case strings.Contains(server, "Debian"):
		hints = append(hints, "Debian Linux")
	case strings.Contains(server, "CentOS") || strings.Contains(server, "Red Hat"):
		hints = append(hints, "CentOS/RHEL")
	case strings.Contains(server, "Microsoft-IIS"):
		hints = append(hints, "Windows Server")
	case strings.Contains(server, "Win32") || strings.Contains(server, "Win64"):
		hints = append(hints, "Windows")
	case strings.Contains(server, "Unix"):
		hints = append(hints, "Unix-like")
	case strings.Contains(server, "FreeBSD"):
		hints = append(hints, "FreeBSD")
	}
	return hints
}
