package packet

import (
	"encoding/binary"
	"net"
)

// BuildUDP renders a UDP datagram to wire bytes with an RFC 768 checksum
// computed over the IPv4 or IPv6 pseudo-header.
func BuildUDP(srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	length := 8 + len(payload)
	if length > 0xFFFF {
		return nil, invalidPacket("udp payload too large")
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint16(header[0:2], srcPort)
	binary.BigEndian.PutUint16(header[2:4], dstPort)
	binary.BigEndian.PutUint16(header[4:6], uint16(length))
	binary.BigEndian.PutUint16(header[6:8], 0)

	var pseudo []byte
	if isIPv4(dstIP) {
		pseudo = pseudoHeaderIPv4(srcIP, dstIP, ProtoUDP, length)
	} else {
		pseudo = pseudoHeaderIPv6(srcIP, dstIP, ProtoUDP, length)
	}

	cksum := transportChecksum(pseudo, header, payload)
	if cksum == 0 {
		// RFC 768: a computed checksum of zero is transmitted as all-ones.
		cksum = 0xFFFF
	}
	binary.BigEndian.PutUint16(header[6:8], cksum)

	return append(header, payload...), nil
}

// ParseUDP parses a UDP datagram from raw bytes.
func ParseUDP(data []byte) (*UDPDatagram, error) {
	if len(data) < 8 {
		return nil, invalidPacket("truncated udp header")
	}

	length := binary.BigEndian.Uint16(data[4:6])
	if int(length) > len(data) {
		return nil, invalidPacket("udp length exceeds available data")
	}

	return &UDPDatagram{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   length,
		Checksum: binary.BigEndian.Uint16(data[6:8]),
		Payload:  append([]byte(nil), data[8:length]...),
	}, nil
}
