package service

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/zmap/zcrypto/ja3"
	ztls "github.com/zmap/zcrypto/tls"
)

// serverSpeaksFirst are the well-known ports whose services greet the
// client unprompted (§4.E step 2).
var serverSpeaksFirst = map[uint16]bool{
	21: true, 22: true, 25: true, 110: true, 143: true, 220: true, 3306: true,
}

// activeProbe returns the protocol-specific bytes to send when the service
// doesn't speak first (§4.E step 3).
func activeProbe(port uint16) []byte {
	switch port {
	case 80, 8080, 8000:
		return []byte("GET / HTTP/1.0\r\n\r\n")
	case 6379:
		return []byte("PING\r\n")
	case 11211:
		return []byte("stats\r\n")
	default:
		return []byte("\r\n")
	}
}

// grabBanner collects a banner over the caller's connection conn per the
// server-speaks-first / active-probe split in §4.E. Port 443 is
// handled separately by grabTLSBanner.
func grabBanner(ctx context.Context, conn net.Conn, port uint16, maxSize int, timeout time.Duration) ([]byte, error) {
	if !serverSpeaksFirst[port] {
		if _, err := conn.Write(activeProbe(port)); err != nil {
			return nil, fmt.Errorf("send active probe: %w", err)
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > timeout {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, maxSize)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// tlsBanner is what grabTLSBanner surfaces: the JA3 fingerprint of our
// ClientHello plus the leaf certificate's subject, formatted as a
// synthetic "banner" the signature set can match against.
type tlsBanner struct {
	JA3     string
	Subject string
	Raw     []byte
}

// grabTLSBanner performs a TLS handshake using zcrypto's introspecting
// client so the JA3 digest and the negotiated certificate chain are both
// available. The banner is built from the JA3 digest and the leaf
// subject only; no application data is read after the handshake.
func grabTLSBanner(ctx context.Context, host net.IP, port uint16, timeout time.Duration) (*tlsBanner, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("dial for tls probe: %w", err)
	}
	defer raw.Close()
	_ = raw.SetDeadline(time.Now().Add(timeout))

	cfg := &ztls.Config{
		InsecureSkipVerify: true,
		ServerName:         host.String(),
	}
	conn := ztls.Client(raw, cfg)
	if err := conn.Handshake(); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	state := conn.ConnectionState()
	banner := &tlsBanner{}
	if state.HandshakeLog != nil && state.HandshakeLog.ClientHello != nil {
		banner.JA3 = ja3.DigestHex(state.HandshakeLog.ClientHello)
	}
	if len(state.PeerCertificates) > 0 {
		banner.Subject = state.PeerCertificates[0].Subject.CommonName
	}
	banner.Raw = []byte(fmt.Sprintf("tls: ja3=%s subject=%s", banner.JA3, banner.Subject))
	return banner, nil
}
