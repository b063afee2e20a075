package osfp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/packet"
)

// ICMPRatePattern classifies how a target throttles ICMP responses under
// a burst (§4.F ICMP features).
type ICMPRatePattern string

const (
	ICMPRateNone     ICMPRatePattern = "none"
	ICMPRateFixed    ICMPRatePattern = "fixed"
	ICMPRateBurst    ICMPRatePattern = "burst_throttle"
	ICMPRateUnknown  ICMPRatePattern = "unknown"
)

// ICMPFeatures is the ICMP sub-vector (§4.F ICMP features).
type ICMPFeatures struct {
	EchoReplyTTL      uint8
	PayloadEchoed     bool
	PayloadSize       int
	ResponseTime      time.Duration
	ClosedPortCode    uint8
	TimestampResponds bool
	RateLimit         ICMPRatePattern
	BurstRepliesSeen  int
	BurstSent         int
}

const icmpBurstSize = 20

func (c *Collector) collectICMP(ctx context.Context, target net.IP, closedUDPPort uint16) (*ICMPFeatures, error) {
	c.mu.Lock()
	sock := c.icmpSocket
	c.mu.Unlock()
	if sock == nil {
		return nil, fmt.Errorf("raw ICMP socket unavailable")
	}

	f := &ICMPFeatures{}

	payload := []byte("osprey-osfp-echo-probe-0123456789")
	if reply, sendTime, err := c.echoRequest(ctx, sock, target, payload); err == nil {
		f.EchoReplyTTL = reply.ipTTL
		f.PayloadEchoed = string(reply.payload) == string(payload)
		f.PayloadSize = len(reply.payload)
		f.ResponseTime = reply.recvTime.Sub(sendTime)
	}

	if code, err := c.probeClosedUDPUnreachable(ctx, sock, target, closedUDPPort); err == nil {
		f.ClosedPortCode = code
	}

	f.TimestampResponds = c.probeTimestamp(ctx, sock, target)

	f.RateLimit, f.BurstRepliesSeen, f.BurstSent = c.probeRateLimit(ctx, sock, target)

	return f, nil
}

type icmpEchoObservation struct {
	ipTTL    uint8
	payload  []byte
	recvTime time.Time
}

func (c *Collector) echoRequest(ctx context.Context, sock packet.RawSocket, target net.IP, payload []byte) (*icmpEchoObservation, time.Time, error) {
	id := uint16(time.Now().UnixNano())
	msg := packet.BuildICMPEcho(id, 1, payload)
	ipPacket, err := packet.BuildIPv4(target, target, packet.ProtoICMP, 64, id, msg)
	if err != nil {
		return nil, time.Time{}, err
	}

	sendTime := time.Now()
	if err := sock.Send(target.String(), ipPacket); err != nil {
		return nil, sendTime, err
	}

	deadline := sendTime.Add(c.cfg.ICMPTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, sendTime, fmt.Errorf("no echo reply from %s", target)
		}
		select {
		case <-ctx.Done():
			return nil, sendTime, ctx.Err()
		default:
		}
		data, timedOut, err := sock.Recv(remaining)
		if err != nil {
			return nil, sendTime, err
		}
		if timedOut {
			return nil, sendTime, fmt.Errorf("no echo reply from %s", target)
		}
		recvTime := time.Now()

		ipReply, err := packet.ParseIPv4(data)
		if err != nil || !ipReply.SrcIP.Equal(target) || ipReply.PayloadKind != packet.PayloadICMP {
			continue
		}
		if ipReply.ICMP.Type != packet.ICMPTypeEchoReply || ipReply.ICMP.ID != id {
			continue
		}
		return &icmpEchoObservation{ipTTL: ipReply.TTL, payload: ipReply.ICMP.Payload, recvTime: recvTime}, sendTime, nil
	}
}

// probeClosedUDPUnreachable sends a UDP datagram to a known-closed port
// and returns the ICMP unreachable code the target answers with.
func (c *Collector) probeClosedUDPUnreachable(ctx context.Context, sock packet.RawSocket, target net.IP, port uint16) (uint8, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: target, Port: int(port)})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("osprey-osfp-udp-probe")); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(c.cfg.ICMPTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("no icmp unreachable from %s", target)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		data, timedOut, err := sock.Recv(remaining)
		if err != nil || timedOut {
			return 0, fmt.Errorf("no icmp unreachable from %s", target)
		}
		ipReply, perr := packet.ParseIPv4(data)
		if perr != nil || !ipReply.SrcIP.Equal(target) || ipReply.PayloadKind != packet.PayloadICMP {
			continue
		}
		if ipReply.ICMP.Type == packet.ICMPTypeDestUnreachable {
			return ipReply.ICMP.Code, nil
		}
	}
}

func (c *Collector) probeTimestamp(ctx context.Context, sock packet.RawSocket, target net.IP) bool {
	id := uint16(time.Now().UnixNano())
	msg := make([]byte, 20)
	msg[0] = byte(packet.ICMPTypeTimestampRequest)
	ipPacket, err := packet.BuildIPv4(target, target, packet.ProtoICMP, 64, id, msg)
	if err != nil {
		return false
	}
	if err := sock.Send(target.String(), ipPacket); err != nil {
		return false
	}

	deadline := time.Now().Add(c.cfg.ICMPTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		data, timedOut, err := sock.Recv(remaining)
		if err != nil || timedOut {
			return false
		}
		ipReply, perr := packet.ParseIPv4(data)
		if perr != nil || !ipReply.SrcIP.Equal(target) || ipReply.PayloadKind != packet.PayloadICMP {
			continue
		}
		if ipReply.ICMP.Type == packet.ICMPTypeTimestampReply {
			return true
		}
	}
}

// probeRateLimit sends a burst of echo requests and observes how many
// replies come back, classifying the pattern (§4.F ICMP features).
func (c *Collector) probeRateLimit(ctx context.Context, sock packet.RawSocket, target net.IP) (ICMPRatePattern, int, int) {
	replies := 0
	for i := 0; i < icmpBurstSize; i++ {
		if _, _, err := c.echoRequest(ctx, sock, target, []byte("osprey-burst")); err == nil {
			replies++
		}
	}

	switch {
	case replies == icmpBurstSize:
		return ICMPRateNone, replies, icmpBurstSize
	case replies == 0:
		return ICMPRateUnknown, replies, icmpBurstSize
	case replies < icmpBurstSize/2:
		return ICMPRateFixed, replies, icmpBurstSize
	default:
		return ICMPRateBurst, replies, icmpBurstSize
	}
}
