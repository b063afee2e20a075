package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/anstrom/osprey/internal/packet"
)

// localIPFor returns the local address the kernel would use to reach dst,
// without actually sending anything (a connected UDP socket never touches
// the wire until a write happens).
func localIPFor(dst net.IP) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(dst.String(), "9"))
	if err != nil {
		return nil, fmt.Errorf("resolve local address for %s: %w", dst, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type for %s", dst)
	}
	return addr.IP, nil
}

// probeICMP sends an ICMP echo request and accepts an echo reply, or any
// ICMP error that itself proves the host exists on the path (§4.C.2).
func (e *Engine) probeICMP(ctx context.Context, ip net.IP) (bool, error) {
	e.mu.Lock()
	sock := e.icmpSocket
	e.mu.Unlock()
	if sock == nil {
		return false, fmt.Errorf("raw ICMP socket unavailable")
	}

	src, err := localIPFor(ip)
	if err != nil {
		return false, err
	}

	id := uint16(time.Now().UnixNano() & 0xffff)
	echo := packet.BuildICMPEcho(id, 1, []byte("osprey-discovery"))
	ipPacket, err := packet.BuildIPv4(src, ip, packet.ProtoICMP, 64, id, echo)
	if err != nil {
		return false, err
	}

	if err := sock.Send(ip.String(), ipPacket); err != nil {
		return false, err
	}

	deadline := time.Now().Add(e.cfg.Timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		data, timedOut, err := sock.Recv(remaining)
		if err != nil {
			return false, err
		}
		if timedOut {
			return false, nil
		}

		reply, err := packet.ParseIPv4(data)
		if err != nil || !reply.SrcIP.Equal(ip) || reply.PayloadKind != packet.PayloadICMP {
			continue
		}

		switch reply.ICMP.Type {
		case packet.ICMPTypeEchoReply:
			return true, nil
		case packet.ICMPTypeDestUnreachable, packet.ICMPTypeTimeExceeded:
			// An ICMP error from the target itself is still proof it exists
			// on the path, even though the echo was not answered directly.
			return true, nil
		}
	}
}

// probeTCP sends a SYN to each candidate port and accepts a SYN-ACK or RST
// as proof of liveness (§4.C.3). When raw TCP is unavailable it falls back
// to a normal connect, where either success or ECONNREFUSED is equally
// conclusive evidence the host is up.
func (e *Engine) probeTCP(ctx context.Context, ip net.IP) (bool, error) {
	e.mu.Lock()
	sock := e.tcpSocket
	e.mu.Unlock()

	for _, port := range e.cfg.TCPPorts {
		var up bool
		var err error
		if sock != nil {
			up, err = e.synPing(ctx, sock, ip, port)
		} else {
			up, err = connectPing(ctx, ip, port, e.cfg.Timeout)
		}
		if err != nil {
			continue
		}
		if up {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) synPing(ctx context.Context, sock packet.RawSocket, ip net.IP, port uint16) (bool, error) {
	src, err := localIPFor(ip)
	if err != nil {
		return false, err
	}

	srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
	seq := uint32(time.Now().UnixNano())
	segment, err := packet.BuildTCP(src, ip, srcPort, port, seq, 0, packet.FlagSYN, 65535,
		[]packet.TCPOption{packet.MSS(1460)}, nil)
	if err != nil {
		return false, err
	}

	ipPacket, err := packet.BuildIPv4(src, ip, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return false, err
	}

	if err := sock.Send(ip.String(), ipPacket); err != nil {
		return false, err
	}

	deadline := time.Now().Add(e.cfg.Timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		data, timedOut, err := sock.Recv(remaining)
		if err != nil {
			return false, err
		}
		if timedOut {
			return false, nil
		}

		reply, err := packet.ParseIPv4(data)
		if err != nil || !reply.SrcIP.Equal(ip) || reply.PayloadKind != packet.PayloadTCP {
			continue
		}
		seg := reply.TCP
		if seg.DstPort != srcPort || seg.SrcPort != port {
			continue
		}
		if seg.Flags.Has(packet.FlagSYN | packet.FlagACK) {
			return true, nil
		}
		if seg.Flags.Has(packet.FlagRST) {
			return true, nil
		}
	}
}

func connectPing(ctx context.Context, ip net.IP, port uint16, timeout time.Duration) (bool, error) {
	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		// A refused connection still proves the host answered.
		if isConnRefused(err) {
			return true, nil
		}
		return false, nil
	}
	conn.Close()
	return true, nil
}

// probeUDP sends a datagram to a port expected to be closed and accepts an
// ICMP port-unreachable reply as proof of liveness (§4.C.4).
func (e *Engine) probeUDP(ctx context.Context, ip net.IP) (bool, error) {
	e.mu.Lock()
	sock := e.icmpSocket
	e.mu.Unlock()
	if sock == nil {
		return false, fmt.Errorf("raw ICMP socket unavailable for UDP ping")
	}

	addr := &net.UDPAddr{IP: ip, Port: int(e.cfg.UDPPort)}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return false, err
	}
	if _, err := conn.Write([]byte("osprey-discovery")); err != nil {
		conn.Close()
		return false, err
	}
	conn.Close()

	deadline := time.Now().Add(e.cfg.Timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		data, timedOut, err := sock.Recv(remaining)
		if err != nil {
			return false, err
		}
		if timedOut {
			return false, nil
		}

		reply, err := packet.ParseIPv4(data)
		if err != nil || !reply.SrcIP.Equal(ip) || reply.PayloadKind != packet.PayloadICMP {
			continue
		}
		// The embedded original datagram would let us match the exact source
		// port, but for liveness purposes any port-unreachable from the
		// target is sufficient: it proves the host's IP stack is up, which
		// is all discovery needs (port-level classification is the port
		// scanner's job, §4.D).
		if reply.ICMP.Type == packet.ICMPTypeDestUnreachable && reply.ICMP.Code == packet.ICMPCodePortUnreachable {
			return true, nil
		}
	}
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
