package packet

import (
	"encoding/binary"
	"net"
)

// BuildIPv4 wraps a transport-layer payload (already built by BuildTCP,
// BuildUDP, or BuildICMPEcho) in an IPv4 header with a correct header
// checksum. TTL defaults to 64 when zero.
func BuildIPv4(srcIP, dstIP net.IP, proto Protocol, ttl uint8, id uint16, payload []byte) ([]byte, error) {
	if ttl == 0 {
		ttl = 64
	}

	totalLen := 20 + len(payload)
	if totalLen > 0xFFFF {
		return nil, invalidPacket("ipv4 total length overflow")
	}

	header := make([]byte, 20)
	header[0] = 0x45 // version 4, IHL 5 (no IP options)
	header[1] = 0
	binary.BigEndian.PutUint16(header[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(header[4:6], id)
	binary.BigEndian.PutUint16(header[6:8], 0x4000) // DF set, no fragmentation
	header[8] = ttl
	header[9] = byte(proto)
	binary.BigEndian.PutUint16(header[10:12], 0)

	src4 := srcIP.To4()
	dst4 := dstIP.To4()
	if src4 == nil || dst4 == nil {
		return nil, invalidPacket("ipv4 build requires ipv4 addresses")
	}
	copy(header[12:16], src4)
	copy(header[16:20], dst4)

	cksum := ipv4HeaderChecksum(header)
	binary.BigEndian.PutUint16(header[10:12], cksum)

	return append(header, payload...), nil
}

// ParseIPv4 parses a raw IPv4 datagram and its typed transport payload. It
// rejects truncated packets and never parses beyond the declared total
// length.
func ParseIPv4(data []byte) (*Ipv4Packet, error) {
	if len(data) < 20 {
		return nil, invalidPacket("truncated ipv4 header")
	}

	version := data[0] >> 4
	if version != 4 {
		return nil, invalidPacket("not an ipv4 packet")
	}

	ihl := int(data[0]&0x0F) * 4
	if ihl < 20 || ihl > len(data) {
		return nil, invalidPacket("malformed ipv4 header length")
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < ihl || totalLen > len(data) {
		return nil, invalidPacket("ipv4 total length exceeds available data")
	}

	p := &Ipv4Packet{
		Version:    version,
		IHL:        uint8(ihl / 4),
		TOS:        data[1],
		TotalLen:   uint16(totalLen),
		ID:         binary.BigEndian.Uint16(data[4:6]),
		Flags:      data[6] >> 5,
		FragOffset: binary.BigEndian.Uint16(data[6:8]) & 0x1FFF,
		TTL:        data[8],
		Protocol:   Protocol(data[9]),
		Checksum:   binary.BigEndian.Uint16(data[10:12]),
		SrcIP:      net.IPv4(data[12], data[13], data[14], data[15]),
		DstIP:      net.IPv4(data[16], data[17], data[18], data[19]),
	}

	payload := data[ihl:totalLen]

	switch p.Protocol {
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
	case ProtoICMP:
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
