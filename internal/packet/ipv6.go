package packet

import (
	"encoding/binary"
	"net"
)

// BuildIPv6 wraps a transport-layer payload in an IPv6 header. IPv6 has no
// header checksum; integrity relies entirely on the transport checksum,
// which BuildTCP/BuildUDP already compute over the IPv6 pseudo-header when
// given IPv6 addresses.
func BuildIPv6(srcIP, dstIP net.IP, nextHeader Protocol, hopLimit uint8, payload []byte) ([]byte, error) {
	if hopLimit == 0 {
		hopLimit = 64
	}
	if len(payload) > 0xFFFF {
		return nil, invalidPacket("ipv6 payload length overflow")
	}

	header := make([]byte, 40)
	binary.BigEndian.PutUint32(header[0:4], 6<<28) // version 6, traffic class 0, flow label 0
	binary.BigEndian.PutUint16(header[4:6], uint16(len(payload)))
	header[6] = byte(nextHeader)
	header[7] = hopLimit

	src16 := srcIP.To16()
	dst16 := dstIP.To16()
	if src16 == nil || dst16 == nil {
		return nil, invalidPacket("ipv6 build requires ipv6 addresses")
	}
	copy(header[8:24], src16)
	copy(header[24:40], dst16)

	return append(header, payload...), nil
}

// ParseIPv6 parses a raw IPv6 datagram and its typed transport payload.
// Extension headers are not walked; NextHeader is treated as pointing
// directly at the transport payload, which holds for the TCP/UDP/ICMPv6
// probes this engine sends.
func ParseIPv6(data []byte) (*Ipv6Packet, error) {
	if len(data) < 40 {
		return nil, invalidPacket("truncated ipv6 header")
	}

	version := data[0] >> 4
	if version != 6 {
		return nil, invalidPacket("not an ipv6 packet")
	}

	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	if 40+payloadLen > len(data) {
		return nil, invalidPacket("ipv6 payload length exceeds available data")
	}

	p := &Ipv6Packet{
		TrafficClass: byte(binary.BigEndian.Uint32(data[0:4])>>20) & 0xFF,
		FlowLabel:    binary.BigEndian.Uint32(data[0:4]) & 0xFFFFF,
		PayloadLen:   uint16(payloadLen),
		NextHeader:   Protocol(data[6]),
		HopLimit:     data[7],
		SrcIP:        net.IP(append([]byte(nil), data[8:24]...)),
		DstIP:        net.IP(append([]byte(nil), data[24:40]...)),
	}

	payload := data[40 : 40+payloadLen]

	switch p.NextHeader {
	case ProtoTCP:
		tcp, err := ParseTCP(payload)
		if err != nil {
			p.PayloadKind = PayloadOther
			p.Other = payload
			return p, nil
		}
		p.PayloadKind = PayloadTCP
		p.TCP = tcp
	case ProtoUDP:
		udp, err := ParseUDP(payload)
		if err != nil {
			p.PayloadKind = PayloadOther
			p.Other = payload
			return p, nil
		}
		p.PayloadKind = PayloadUDP
		p.UDP = udp
	case ProtoICMPv6:
		icmp, err := ParseICMP(payload)
		if err != nil {
			p.PayloadKind = PayloadOther
			p.Other = payload
			return p, nil
		}
		p.PayloadKind = PayloadICMP
		p.ICMP = icmp
	default:
		p.PayloadKind = PayloadOther
		p.Other = payload
	}

	return p, nil
}
