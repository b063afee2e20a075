package osfp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/packet"
)

// UDPResponsePattern classifies how a target answers a burst of UDP
// probes sent to a closed port (§4.F UDP features).
type UDPResponsePattern string

const (
	UDPAlwaysRespond UDPResponsePattern = "always_respond"
	UDPSilentDrop    UDPResponsePattern = "silent_drop"
	UDPRateLimited   UDPResponsePattern = "rate_limited"
	UDPSelective     UDPResponsePattern = "selective"
	UDPInconsistent  UDPResponsePattern = "inconsistent"
)

// UDPFeatures is the UDP sub-vector (§4.F UDP features).
type UDPFeatures struct {
	PortUnreachableCode uint8
	BytesEchoed         int
	ResponseTime        time.Duration
	BurstPattern        UDPResponsePattern
	BurstRepliesSeen    int
	BurstSent           int
}

const udpBurstSize = 10

func (c *Collector) collectUDP(ctx context.Context, target net.IP, closedPort uint16) (*UDPFeatures, error) {
	c.mu.Lock()
	sock := c.icmpSocket
	c.mu.Unlock()

	f := &UDPFeatures{}

	payload := []byte("osprey-osfp-udp-echo-0123456789")
	if sock != nil {
		if code, echoed, respTime, err := c.udpUnreachableProbe(ctx, sock, target, closedPort, payload); err == nil {
			f.PortUnreachableCode = code
			f.BytesEchoed = echoed
			f.ResponseTime = respTime
		}
	}

	f.BurstPattern, f.BurstRepliesSeen, f.BurstSent = c.udpBurstProbe(ctx, sock, target, closedPort)

	return f, nil
}

// udpUnreachableProbe sends one UDP datagram to a closed port and reads
// the resulting ICMP port-unreachable off the raw ICMP socket, recording
// how much of the original payload the target echoed back.
func (c *Collector) udpUnreachableProbe(
	ctx context.Context, sock packet.RawSocket, target net.IP, port uint16, payload []byte,
) (uint8, int, time.Duration, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: target, Port: int(port)})
	if err != nil {
		return 0, 0, 0, err
	}
	defer conn.Close()

	sendTime := time.Now()
	if _, err := conn.Write(payload); err != nil {
		return 0, 0, 0, err
	}

	deadline := sendTime.Add(c.cfg.UDPTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, 0, 0, fmt.Errorf("no icmp unreachable reply from %s", target)
		}
		select {
		case <-ctx.Done():
			return 0, 0, 0, ctx.Err()
		default:
		}
		data, timedOut, err := sock.Recv(remaining)
		if err != nil || timedOut {
			return 0, 0, 0, fmt.Errorf("no icmp unreachable reply from %s", target)
		}
		recvTime := time.Now()
		ipReply, perr := packet.ParseIPv4(data)
		if perr != nil || !ipReply.SrcIP.Equal(target) || ipReply.PayloadKind != packet.PayloadICMP {
			continue
		}
		if ipReply.ICMP.Type != packet.ICMPTypeDestUnreachable {
			continue
		}
		echoed := len(ipReply.ICMP.Payload)
		if echoed > len(payload) {
			echoed = len(payload)
		}
		return ipReply.ICMP.Code, echoed, recvTime.Sub(sendTime), nil
	}
}

// udpBurstProbe sends udpBurstSize UDP datagrams to a closed port and
// classifies how many elicit an ICMP unreachable reply.
func (c *Collector) udpBurstProbe(ctx context.Context, sock packet.RawSocket, target net.IP, port uint16) (UDPResponsePattern, int, int) {
	if sock == nil {
		return UDPInconsistent, 0, udpBurstSize
	}

	replies := 0
	for i := 0; i < udpBurstSize; i++ {
		if _, _, _, err := c.udpUnreachableProbe(ctx, sock, target, port, []byte("osprey-burst")); err == nil {
			replies++
		}
	}

	switch {
	case replies == udpBurstSize:
		return UDPAlwaysRespond, replies, udpBurstSize
	case replies == 0:
		return UDPSilentDrop, replies, udpBurstSize
	case replies < udpBurstSize/2:
		return UDPRateLimited, replies, udpBurstSize
	default:
		return UDPSelective, replies, udpBurstSize
	}
}
