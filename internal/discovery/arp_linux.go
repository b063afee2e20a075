//go:build linux

package discovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const (
	ethPARP     = 0x0806
	arpHTYPEEth = 1
	arpPTYPEIP  = 0x0800
	arpOpReq    = 1
	arpOpReply  = 2
	arpFrameLen = 14 + 28 // ethernet header + ARP payload
)

func arpPlatformSupported() bool { return true }

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// probeARP broadcasts an ARP request for ip and accepts the first reply
// claiming that address (§4.C.1, same-link only).
func (e *Engine) probeARP(ctx context.Context, ip net.IP) (bool, error) {
	if !arpSupported {
		return false, fmt.Errorf("arp not supported on this platform")
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return false, fmt.Errorf("arp only supports ipv4 targets")
	}

	iface, localIP, err := ifaceForTarget(ip)
	if err != nil {
		return false, err
	}
	if len(iface.HardwareAddr) != 6 {
		return false, fmt.Errorf("interface %s has no ethernet address", iface.Name)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(ethPARP)))
	if err != nil {
		return false, fmt.Errorf("socket(AF_PACKET): %w", err)
	}
	defer unix.Close(fd)

	addr := unix.SockaddrLinklayer{
		Protocol: htons(ethPARP),
		Ifindex:  iface.Index,
		Halen:    6,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		return false, fmt.Errorf("bind(AF_PACKET): %w", err)
	}

	frame := buildARPRequest(iface.HardwareAddr, localIP.To4(), ip4)

	dest := addr
	copy(dest.Addr[:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	if err := unix.Sendto(fd, frame, 0, &dest); err != nil {
		return false, fmt.Errorf("sendto(AF_PACKET): %w", err)
	}

	deadline := time.Now().Add(e.cfg.Timeout)
	buf := make([]byte, 128)
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

		tv := unix.NsecToTimeval(remaining.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return false, err
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, err
		}

		if isARPReplyFor(buf[:n], ip4, localIP.To4()) {
			return true, nil
		}
	}
}

func buildARPRequest(srcMAC, srcIP, dstIP []byte) []byte {
	frame := make([]byte, arpFrameLen)
	for i := 0; i < 6; i++ {
		frame[i] = 0xff // broadcast destination
	}
	copy(frame[6:12], srcMAC)
	binary.BigEndian.PutUint16(frame[12:14], ethPARP)

	arp := frame[14:]
	binary.BigEndian.PutUint16(arp[0:2], arpHTYPEEth)
	binary.BigEndian.PutUint16(arp[2:4], arpPTYPEIP)
	arp[4] = 6
	arp[5] = 4
	binary.BigEndian.PutUint16(arp[6:8], arpOpReq)
	copy(arp[8:14], srcMAC)
	copy(arp[14:18], srcIP)
	// target hardware address left zeroed, per RFC 826
	copy(arp[24:28], dstIP)

	return frame
}

func isARPReplyFor(frame []byte, expectedSender, expectedTarget []byte) bool {
	if len(frame) < arpFrameLen {
		return false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != ethPARP {
		return false
	}

	arp := frame[14:]
	if binary.BigEndian.Uint16(arp[6:8]) != arpOpReply {
		return false
	}
	senderIP := arp[14:18]
	targetIP := arp[24:28]

	return net.IP(senderIP).Equal(net.IP(expectedSender)) && net.IP(targetIP).Equal(net.IP(expectedTarget))
}
