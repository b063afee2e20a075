package portscan

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/packet"
)

// filteredUnreachableCodes are the ICMP destination-unreachable codes that
// prove a port is firewalled rather than merely silent (§4.D TCP SYN).
var filteredUnreachableCodes = map[uint8]bool{
	packet.ICMPCodeHostUnreachable:  true,
	packet.ICMPCodeProtoUnreachable: true,
	packet.ICMPCodePortUnreachable:  true,
	packet.ICMPCodeNetProhibited:    true,
	packet.ICMPCodeHostProhibited:   true,
	packet.ICMPCodeCommProhibited:   true,
}

// tcpSYNProbe sends a crafted SYN and classifies the reply (§4.D TCP SYN).
// A SYN-ACK is immediately answered with a RST to tear the half-open
// connection down without completing a full handshake.
func (s *Scanner) tcpSYNProbe(ctx context.Context, host net.IP, port uint16) (Status, []byte, Provenance, bool, error) {
	s.mu.Lock()
	sock := s.tcpSocket
	s.mu.Unlock()
	if sock == nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, fmt.Errorf("raw TCP socket unavailable")
	}

	src, err := localIPFor(host)
	if err != nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, err
	}

	srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
	seq := uint32(time.Now().UnixNano())
	segment, err := packet.BuildTCP(src, host, srcPort, port, seq, 0, packet.FlagSYN, 65535,
		[]packet.TCPOption{packet.MSS(1460)}, nil)
	if err != nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, err
	}

	ipPacket, err := packet.BuildIPv4(src, host, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, err
	}

	if err := sock.Send(host.String(), ipPacket); err != nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	var sawSYNACKAt, sawRSTAt time.Time

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return StatusFiltered, nil, ProvenanceNoResponse, true, ctx.Err()
		default:
		}

		data, timedOut, err := sock.Recv(remaining)
		if err != nil {
			return StatusFiltered, nil, ProvenanceNoResponse, true, err
		}
		if timedOut {
			break
		}

		ipReply, err := packet.ParseIPv4(data)
		if err != nil || !ipReply.SrcIP.Equal(host) {
			continue
		}

		if ipReply.PayloadKind == packet.PayloadICMP && ipReply.ICMP.Type == packet.ICMPTypeDestUnreachable {
			if filteredUnreachableCodes[ipReply.ICMP.Code] {
				return StatusFiltered, nil, ProvenanceICMPUnreachable, true, nil
			}
			continue
		}

		if ipReply.PayloadKind != packet.PayloadTCP {
			continue
		}
		seg := ipReply.TCP
		if seg.DstPort != srcPort || seg.SrcPort != port {
			continue
		}

		now := time.Now()
		if seg.Flags.Has(packet.FlagSYN | packet.FlagACK) {
			sawSYNACKAt = now
		} else if seg.Flags.Has(packet.FlagRST) {
			sawRSTAt = now
		}

		// Tie-break: if both SYN-ACK and a later RST arrive, the earlier
		// evidence wins (§4.D). Stop as soon as we have at least one.
		if !sawSYNACKAt.IsZero() && (sawRSTAt.IsZero() || sawSYNACKAt.Before(sawRSTAt)) {
			sendRST(sock, src, host, srcPort, port, seq+1, seg.Seq+1)
			return StatusOpen, nil, ProvenanceSYNACK, true, nil
		}
		if !sawRSTAt.IsZero() {
			return StatusClosed, nil, ProvenanceRST, true, nil
		}
	}

	return StatusFiltered, nil, ProvenanceNoResponse, false, nil
}

// sendRST tears down the half-open connection a SYN-ACK created, without
// ever completing the handshake.
func sendRST(sock packet.RawSocket, src, dst net.IP, srcPort, dstPort uint16, seq, ack uint32) {
	segment, err := packet.BuildTCP(src, dst, srcPort, dstPort, seq, ack, packet.FlagRST|packet.FlagACK, 0, nil, nil)
	if err != nil {
		return
	}
	ipPacket, err := packet.BuildIPv4(src, dst, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return
	}
	_ = sock.Send(dst.String(), ipPacket)
}
