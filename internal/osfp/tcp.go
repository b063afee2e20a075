package osfp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/packet"
)

// IPIDPattern classifies how a target's IP identification field evolves
// across successive packets (§4.F TCP features).
type IPIDPattern string

const (
	IPIDIncremental IPIDPattern = "incremental"
	IPIDRandom      IPIDPattern = "random"
	IPIDZero        IPIDPattern = "zero"
	IPIDFixed       IPIDPattern = "fixed"
	IPIDUnknown     IPIDPattern = "unknown"
)

// RSTBehavior classifies how a target answers FIN/NULL/Xmas probes sent
// to a closed port.
type RSTBehavior struct {
	FINProbeRST  bool
	NULLProbeRST bool
	XmasProbeRST bool
}

// TCPFeatures is the TCP/IP stack sub-vector (§4.F TCP features).
type TCPFeatures struct {
	InitialTTL      uint8
	WindowSize      uint16
	MSS             uint16
	OptionOrder     []packet.TCPOptionKind
	DFFlag          bool
	SynAckTiming    time.Duration
	RSTBehavior     RSTBehavior
	IPIDPattern     IPIDPattern
	IPIDSamples     []uint16
	ECNSupport      bool
}

const ipidSampleCount = 6

func (c *Collector) collectTCP(ctx context.Context, target net.IP, openPort, closedPort uint16) (*TCPFeatures, error) {
	c.mu.Lock()
	sock := c.tcpSocket
	c.mu.Unlock()
	if sock == nil {
		return nil, fmt.Errorf("raw TCP socket unavailable")
	}

	src, err := localIPFor(target)
	if err != nil {
		return nil, err
	}

	tf := &TCPFeatures{}

	synAck, sendTime, err := c.probeSYN(ctx, sock, src, target, openPort, 0)
	if err != nil {
		return nil, err
	}
	tf.InitialTTL = synAck.ipTTL
	tf.WindowSize = synAck.seg.Window
	tf.DFFlag = synAck.df
	tf.SynAckTiming = synAck.recvTime.Sub(sendTime)
	for _, opt := range synAck.seg.Options {
		tf.OptionOrder = append(tf.OptionOrder, opt.Kind)
		if opt.Kind == packet.OptMSS && len(opt.Bytes) == 2 {
			tf.MSS = uint16(opt.Bytes[0])<<8 | uint16(opt.Bytes[1])
		}
	}

	tf.RSTBehavior = c.probeRSTBehavior(ctx, sock, src, target, closedPort)
	tf.IPIDPattern, tf.IPIDSamples = c.sampleIPIDPattern(ctx, sock, src, target, closedPort)
	tf.ECNSupport = c.probeECN(ctx, sock, src, target, openPort)

	return tf, nil
}

type synAckObservation struct {
	seg      *packet.TCPSegment
	ipTTL    uint8
	ipID     uint16
	df       bool
	recvTime time.Time
}

// probeSYN sends a single crafted SYN carrying the full probe option set
// (MSS, SACK-permitted, timestamp, NOP, window scale 7) and waits for a
// SYN-ACK. It uses the same option kinds as the T1 active probe, in a
// different order and with a different window scale (see t1Options).
func (c *Collector) probeSYN(
	ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16, extraFlags packet.TCPFlags,
) (*synAckObservation, time.Time, error) {
	srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
	seq := uint32(time.Now().UnixNano())
	options := []packet.TCPOption{
		packet.MSS(1460),
		packet.SACKPermitted(),
		packet.Timestamp(uint32(time.Now().UnixNano()/1000), 0),
		packet.NOPOption(),
		packet.WindowScale(7),
	}
	segment, err := packet.BuildTCP(src, dst, srcPort, port, seq, 0, packet.FlagSYN|extraFlags, 65535, options, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	ipPacket, err := packet.BuildIPv4(src, dst, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return nil, time.Time{}, err
	}

	sendTime := time.Now()
	if err := sock.Send(dst.String(), ipPacket); err != nil {
		return nil, sendTime, err
	}

	deadline := sendTime.Add(c.cfg.TCPTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, sendTime, fmt.Errorf("no response to SYN probe on port %d", port)
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
			return nil, sendTime, fmt.Errorf("no response to SYN probe on port %d", port)
		}
		recvTime := time.Now()

		ipReply, err := packet.ParseIPv4(data)
		if err != nil || !ipReply.SrcIP.Equal(dst) || ipReply.PayloadKind != packet.PayloadTCP {
			continue
		}
		seg := ipReply.TCP
		if seg.DstPort != srcPort || seg.SrcPort != port {
			continue
		}
		return &synAckObservation{
			seg:      seg,
			ipTTL:    ipReply.TTL,
			ipID:     ipReply.ID,
			df:       ipReply.Flags&0x02 != 0,
			recvTime: recvTime,
		}, sendTime, nil
	}
}

// probeRSTBehavior sends FIN-only, NULL (no flags), and Xmas
// (FIN|PSH|URG) segments to a closed port, recording whether each
// elicits a RST the way an open TCP/IP stack conventionally does.
func (c *Collector) probeRSTBehavior(ctx context.Context, sock packet.RawSocket, src, dst net.IP, closedPort uint16) RSTBehavior {
	return RSTBehavior{
		FINProbeRST:  c.probeFlagsForRST(ctx, sock, src, dst, closedPort, packet.FlagFIN),
		NULLProbeRST: c.probeFlagsForRST(ctx, sock, src, dst, closedPort, 0),
		XmasProbeRST: c.probeFlagsForRST(ctx, sock, src, dst, closedPort, packet.FlagFIN|packet.FlagPSH|packet.FlagURG),
	}
}

func (c *Collector) probeFlagsForRST(
	ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16, flags packet.TCPFlags,
) bool {
	srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
	segment, err := packet.BuildTCP(src, dst, srcPort, port, uint32(time.Now().UnixNano()), 0, flags, 1024, nil, nil)
	if err != nil {
		return false
	}
	ipPacket, err := packet.BuildIPv4(src, dst, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return false
	}
	if err := sock.Send(dst.String(), ipPacket); err != nil {
		return false
	}

	deadline := time.Now().Add(c.cfg.TCPTimeout)
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
		ipReply, err := packet.ParseIPv4(data)
		if err != nil || !ipReply.SrcIP.Equal(dst) || ipReply.PayloadKind != packet.PayloadTCP {
			continue
		}
		seg := ipReply.TCP
		if seg.DstPort != srcPort || seg.SrcPort != port {
			continue
		}
		return seg.Flags.Has(packet.FlagRST)
	}
}

// sampleIPIDPattern sends ipidSampleCount probes in quick succession and
// classifies the resulting IP identification sequence (§4.F TCP features).
func (c *Collector) sampleIPIDPattern(
	ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16,
) (IPIDPattern, []uint16) {
	samples := make([]uint16, 0, ipidSampleCount)
	for i := 0; i < ipidSampleCount; i++ {
		srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
		segment, err := packet.BuildTCP(src, dst, srcPort, port, uint32(time.Now().UnixNano()), 0, packet.FlagACK, 1024, nil, nil)
		if err != nil {
			continue
		}
		ipPacket, err := packet.BuildIPv4(src, dst, packet.ProtoTCP, 64, srcPort, segment)
		if err != nil {
			continue
		}
		if err := sock.Send(dst.String(), ipPacket); err != nil {
			continue
		}

		deadline := time.Now().Add(c.cfg.TCPTimeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			select {
			case <-ctx.Done():
				return classifyIPIDPattern(samples), samples
			default:
			}
			data, timedOut, err := sock.Recv(remaining)
			if err != nil || timedOut {
				break
			}
			ipReply, perr := packet.ParseIPv4(data)
			if perr != nil || !ipReply.SrcIP.Equal(dst) || ipReply.PayloadKind != packet.PayloadTCP {
				continue
			}
			if ipReply.TCP.DstPort != srcPort {
				continue
			}
			samples = append(samples, ipReply.ID)
			break
		}
	}
	return classifyIPIDPattern(samples), samples
}

func classifyIPIDPattern(samples []uint16) IPIDPattern {
	if len(samples) < 2 {
		return IPIDUnknown
	}

	allZero := true
	for _, s := range samples {
		if s != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return IPIDZero
	}

	allSame := true
	for _, s := range samples[1:] {
		if s != samples[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return IPIDFixed
	}

	incremental := true
	for i := 1; i < len(samples); i++ {
		delta := int(samples[i]) - int(samples[i-1])
		if delta < 0 {
			delta += 1 << 16
		}
		if delta == 0 || delta > 1000 {
			incremental = false
			break
		}
	}
	if incremental {
		return IPIDIncremental
	}
	return IPIDRandom
}

// probeECN sends a SYN with ECE and CWR set (ECN-setup SYN) and checks
// whether the reply reflects ECE, indicating ECN support (§4.F TCP
// features).
func (c *Collector) probeECN(ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16) bool {
	obs, _, err := c.probeSYN(ctx, sock, src, dst, port, packet.FlagECE|packet.FlagCWR)
	if err != nil {
		return false
	}
	return obs.seg.Flags.Has(packet.FlagECE)
}
