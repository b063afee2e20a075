//go:build linux

package packet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// linuxRawSocket is a single blocking AF_INET SOCK_RAW socket with
// IP_HDRINCL set, so callers supply a complete IP header themselves. This
// is deliberately simpler than a full packet-capture pipeline: one socket
// per protocol, no TPACKET_V3 ring, no BPF filter, no fanout. Good enough
// for a scanner sending at bounded pps and reading individual replies; not
// meant to sniff arbitrary link-layer traffic.
type linuxRawSocket struct {
	fd    int
	proto Protocol
}

func openRawSocket(proto Protocol) (RawSocket, error) {
	domain := unix.AF_INET
	sockProto := int(proto)

	fd, err := unix.Socket(domain, unix.SOCK_RAW, sockProto)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_INET, SOCK_RAW, %d): %w", sockProto, err)
	}

	if proto == ProtoTCP || proto == ProtoUDP {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("IP_HDRINCL: %w", err)
		}
	}

	return &linuxRawSocket{fd: fd, proto: proto}, nil
}

// Send transmits a complete IP packet to dst. dst is a bare IP address;
// the destination port, if any, is already encoded in the packet's
// transport header and is ignored by the raw IP layer.
func (s *linuxRawSocket) Send(dst string, packet []byte) error {
	ip := net.ParseIP(dst)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid ipv4 destination %q", dst)
	}

	var addr unix.SockaddrInet4
	copy(addr.Addr[:], ip.To4())

	return unix.Sendto(s.fd, packet, 0, &addr)
}

// Recv waits up to timeout for the next inbound datagram using SO_RCVTIMEO,
// which suspends the caller without busy-waiting.
func (s *linuxRawSocket) Recv(timeout time.Duration) ([]byte, bool, error) {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, false, fmt.Errorf("SO_RCVTIMEO: %w", err)
	}

	buf := make([]byte, 65536)
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, true, nil
		}
		return nil, false, err
	}

	return buf[:n], false, nil
}

func (s *linuxRawSocket) Close() error {
	return unix.Close(s.fd)
}
