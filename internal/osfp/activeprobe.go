package osfp

import (
	"context"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/packet"
)

// TCPProbeKind identifies one of the Nmap-style T1-T7 probes.
type TCPProbeKind string

const (
	ProbeT1 TCPProbeKind = "T1"
	ProbeT2 TCPProbeKind = "T2"
	ProbeT3 TCPProbeKind = "T3"
	ProbeT4 TCPProbeKind = "T4"
	ProbeT5 TCPProbeKind = "T5"
	ProbeT6 TCPProbeKind = "T6"
	ProbeT7 TCPProbeKind = "T7"
)

// TCPProbeResponse is one T1-T7 probe's observed reply, or the zero value
// with Responded false if the target stayed silent.
type TCPProbeResponse struct {
	Probe        TCPProbeKind
	Responded    bool
	Flags        packet.TCPFlags
	WindowSize   uint16
	Seq          uint32
	Ack          uint32
	TTL          uint8
	IPID         uint16
	DFFlag       bool
	ResponseTime time.Duration
}

// UDPProbeResponse is the U1 probe's result: a single UDP datagram to a
// closed port, observing the ICMP unreachable reply.
type UDPProbeResponse struct {
	ICMPUnreachable bool
	ICMPCode        uint8
	TTL             uint8
	IPID            uint16
	DFFlag          bool
	ResponseTime    time.Duration
}

// ICMPProbeResponse is the IE probe's result: a plain echo request with a
// distinctive payload.
type ICMPProbeResponse struct {
	EchoReply    bool
	TTL          uint8
	IPID         uint16
	DFFlag       bool
	ResponseTime time.Duration
}

// SeqProbeResponse captures one SYN-ACK's initial sequence number and IP
// ID for ISN-increment and IP-ID-correlation analysis across a burst.
type SeqProbeResponse struct {
	ISN       uint32
	Timestamp time.Time
	IPID      uint16
}

// ECNProbeResponse is the ECN probe's result: a SYN with ECE|CWR set,
// checking whether the reply reflects ECN support.
type ECNProbeResponse struct {
	ECNSupported bool
	CWRFlag      bool
	ECEFlag      bool
}

// ActiveProbeResult bundles every probe in the battery (§4.F active
// probes): T1-T7 (seven TCP segments), U1 (one UDP datagram), IE (one
// ICMP echo), SEQ (six SYNs for ISN analysis), and ECN (one SYN) --
// sixteen packets total, sent serially with a small gap between each so
// responses can be unambiguously attributed. Never run unless
// EnableActiveProbes is explicitly set.
type ActiveProbeResult struct {
	TCPProbes   []TCPProbeResponse
	UDPProbe    *UDPProbeResponse
	ICMPProbe   *ICMPProbeResponse
	SeqProbes   []SeqProbeResponse
	ECNProbe    *ECNProbeResponse
	TotalTime   time.Duration
}

const activeProbeGap = 50 * time.Millisecond

// t1Options returns the T1/T3 probe's option set: window scale 10, NOP,
// MSS 1460, timestamp, SACK permitted, matching the original's byte
// sequence.
func t1Options() []packet.TCPOption {
	return []packet.TCPOption{
		packet.WindowScale(10),
		packet.NOPOption(),
		packet.MSS(1460),
		packet.Timestamp(0, 0),
		packet.SACKPermitted(),
	}
}

func (c *Collector) runActiveProbes(ctx context.Context, target net.IP, openPort, closedPort uint16) *ActiveProbeResult {
	start := time.Now()
	result := &ActiveProbeResult{}

	c.mu.Lock()
	tcpSock := c.tcpSocket
	icmpSock := c.icmpSocket
	c.mu.Unlock()

	src, err := localIPFor(target)
	if err != nil || tcpSock == nil {
		result.TotalTime = time.Since(start)
		return result
	}

	specs := []struct {
		kind   TCPProbeKind
		port   uint16
		flags  packet.TCPFlags
		window uint16
		opts   []packet.TCPOption
	}{
		{ProbeT1, openPort, packet.FlagSYN, 5840, t1Options()},
		{ProbeT2, openPort, 0, 63000, nil},
		{ProbeT3, openPort, packet.FlagSYN, 4096, t1Options()},
		{ProbeT4, openPort, packet.FlagACK, 1024, nil},
		{ProbeT5, closedPort, packet.FlagSYN, 31337, nil},
		{ProbeT6, closedPort, packet.FlagACK, 32000, nil},
		{ProbeT7, closedPort, packet.FlagFIN | packet.FlagPSH | packet.FlagURG, 65535, nil},
	}

	for _, s := range specs {
		result.TCPProbes = append(result.TCPProbes, c.runTCPProbe(ctx, tcpSock, src, target, s.kind, s.port, s.flags, s.window, s.opts))
		time.Sleep(activeProbeGap)
	}

	if resp := c.runUDPProbe(ctx, icmpSock, target, closedPort); resp != nil {
		result.UDPProbe = resp
	}
	time.Sleep(activeProbeGap)

	if resp := c.runICMPEchoProbe(ctx, icmpSock, target); resp != nil {
		result.ICMPProbe = resp
	}
	time.Sleep(activeProbeGap)

	result.SeqProbes = c.runSeqProbes(ctx, tcpSock, src, target, openPort, 6)

	if resp := c.runECNProbe(ctx, tcpSock, src, target, openPort); resp != nil {
		result.ECNProbe = resp
	}

	result.TotalTime = time.Since(start)
	return result
}

func (c *Collector) runTCPProbe(
	ctx context.Context, sock packet.RawSocket, src, dst net.IP,
	kind TCPProbeKind, port uint16, flags packet.TCPFlags, window uint16, opts []packet.TCPOption,
) TCPProbeResponse {
	resp := TCPProbeResponse{Probe: kind}

	srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
	segment, err := packet.BuildTCP(src, dst, srcPort, port, uint32(time.Now().UnixNano()), 0, flags, window, opts, nil)
	if err != nil {
		return resp
	}
	ipPacket, err := packet.BuildIPv4(src, dst, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return resp
	}

	sendTime := time.Now()
	if err := sock.Send(dst.String(), ipPacket); err != nil {
		return resp
	}

	deadline := sendTime.Add(c.cfg.ActiveProbeTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return resp
		}
		select {
		case <-ctx.Done():
			return resp
		default:
		}
		data, timedOut, err := sock.Recv(remaining)
		if err != nil || timedOut {
			return resp
		}
		ipReply, perr := packet.ParseIPv4(data)
		if perr != nil || !ipReply.SrcIP.Equal(dst) || ipReply.PayloadKind != packet.PayloadTCP {
			continue
		}
		seg := ipReply.TCP
		if seg.DstPort != srcPort {
			continue
		}
		resp.Responded = true
		resp.Flags = seg.Flags
		resp.WindowSize = seg.Window
		resp.Seq = seg.Seq
		resp.Ack = seg.Ack
		resp.TTL = ipReply.TTL
		resp.IPID = ipReply.ID
		resp.DFFlag = ipReply.Flags&0x02 != 0
		resp.ResponseTime = time.Since(sendTime)
		return resp
	}
}

func (c *Collector) runUDPProbe(ctx context.Context, icmpSock packet.RawSocket, target net.IP, closedPort uint16) *UDPProbeResponse {
	if icmpSock == nil {
		return nil
	}
	code, _, respTime, err := c.udpUnreachableProbe(ctx, icmpSock, target, closedPort, []byte("osprey-u1-probe"))
	if err != nil {
		return &UDPProbeResponse{}
	}
	return &UDPProbeResponse{ICMPUnreachable: true, ICMPCode: code, ResponseTime: respTime}
}

func (c *Collector) runICMPEchoProbe(ctx context.Context, icmpSock packet.RawSocket, target net.IP) *ICMPProbeResponse {
	if icmpSock == nil {
		return nil
	}
	obs, sendTime, err := c.echoRequest(ctx, icmpSock, target, []byte("osprey-ie-probe"))
	if err != nil {
		return &ICMPProbeResponse{}
	}
	return &ICMPProbeResponse{
		EchoReply:    true,
		TTL:          obs.ipTTL,
		ResponseTime: obs.recvTime.Sub(sendTime),
	}
}

// runSeqProbes sends count SYNs to the open port in quick succession,
// recording each SYN-ACK's initial sequence number and IP ID for ISN and
// IP-ID correlation analysis.
func (c *Collector) runSeqProbes(ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16, count int) []SeqProbeResponse {
	if sock == nil {
		return nil
	}
	var out []SeqProbeResponse
	for i := 0; i < count; i++ {
		obs, _, err := c.probeSYN(ctx, sock, src, dst, port, 0)
		if err == nil {
			out = append(out, SeqProbeResponse{ISN: obs.seg.Seq, Timestamp: obs.recvTime, IPID: obs.ipID})
		}
		time.Sleep(activeProbeGap)
	}
	return out
}

func (c *Collector) runECNProbe(ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16) *ECNProbeResponse {
	if sock == nil {
		return nil
	}
	obs, _, err := c.probeSYN(ctx, sock, src, dst, port, packet.FlagECE|packet.FlagCWR)
	if err != nil {
		return &ECNProbeResponse{}
	}
	return &ECNProbeResponse{
		ECNSupported: obs.seg.Flags.Has(packet.FlagECE),
		CWRFlag:      obs.seg.Flags.Has(packet.FlagCWR),
		ECEFlag:      obs.seg.Flags.Has(packet.FlagECE),
	}
}
