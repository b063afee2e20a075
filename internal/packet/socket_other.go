//go:build !linux

package packet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/icmp"
)

// portableICMPSocket is the fallback raw-socket path for platforms without
// AF_INET SOCK_RAW + IP_HDRINCL semantics (everything but Linux). It only
// supports ICMP, via golang.org/x/net/icmp's portable datagram-oriented
// socket; TCP/UDP raw sending falls back to PermissionDenied so the caller
// degrades to TCP connect / UDP connected-socket techniques instead.
type portableICMPSocket struct {
	conn *icmp.PacketConn
}

func openRawSocket(proto Protocol) (RawSocket, error) {
	if proto != ProtoICMP {
		return nil, fmt.Errorf("raw %d sockets unsupported on this platform, use a higher-level technique", proto)
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("icmp.ListenPacket: %w", err)
	}

	return &portableICMPSocket{conn: conn}, nil
}

func (s *portableICMPSocket) Send(dst string, packet []byte) error {
	_, err := s.conn.WriteTo(packet, &net.IPAddr{IP: net.ParseIP(dst)})
	return err
}

func (s *portableICMPSocket) Recv(timeout time.Duration) ([]byte, bool, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, false, err
	}

	buf := make([]byte, 65536)
	n, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return nil, true, nil
		}
		return nil, false, err
	}

	return buf[:n], false, nil
}

func (s *portableICMPSocket) Close() error {
	return s.conn.Close()
}
