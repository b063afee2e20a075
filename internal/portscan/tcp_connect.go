package portscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// serverSpeaksFirst is the set of well-known ports whose service greets the
// client immediately on connect, so a banner can be read without sending a
// probe first (§4.D, §4.E).
var serverSpeaksFirst = map[uint16]bool{
	21: true, 22: true, 25: true, 110: true, 143: true, 220: true,
}

// tcpConnectProbe performs a full three-way handshake (§4.D TCP Connect).
func (s *Scanner) tcpConnectProbe(ctx context.Context, host net.IP, port uint16) (Status, []byte, Provenance, bool, error) {
	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	addr := net.JoinHostPort(host.String(), fmt.Sprintf("%d", port))

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return StatusClosed, nil, ProvenanceRST, true, nil
		}
		if isTimeoutOrUnreachable(err) {
			return StatusFiltered, nil, ProvenanceNoResponse, false, nil
		}
		return StatusFiltered, nil, ProvenanceNoResponse, true, nil
	}
	defer conn.Close()

	var banner []byte
	if serverSpeaksFirst[port] {
		banner = readBanner(conn, s.cfg.MaxBannerSize, s.cfg.BannerTimeout)
	}

	return StatusOpen, banner, ProvenanceTCPHandshake, true, nil
}

func isTimeoutOrUnreachable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH)
}

// readBanner reads up to maxSize bytes from conn with a short deadline,
// returning whatever arrived (including nothing) rather than erroring out.
func readBanner(conn net.Conn, maxSize int, timeout time.Duration) []byte {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, maxSize)
	n, _ := conn.Read(buf)
	if n <= 0 {
		return nil
	}
	return buf[:n]
}
