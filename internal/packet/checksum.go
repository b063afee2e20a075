package packet

import (
	"encoding/binary"
	"net"
)

// checksum computes the RFC 1071 Internet checksum (ones' complement sum of
// 16-bit words) over data.
func checksum(data []byte) uint16 {
	var sum uint32

	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum)
}

// pseudoHeaderIPv4 builds the IPv4 pseudo-header used to checksum TCP and
// UDP segments, per RFC 793 §3.1 and RFC 768.
func pseudoHeaderIPv4(src, dst net.IP, proto Protocol, length int) []byte {
	h := make([]byte, 12)
	copy(h[0:4], src.To4())
	copy(h[4:8], dst.To4())
	h[8] = 0
	h[9] = byte(proto)
	binary.BigEndian.PutUint16(h[10:12], uint16(length))
	return h
}

// pseudoHeaderIPv6 builds the IPv6 pseudo-header, per RFC 8200 §8.1.
func pseudoHeaderIPv6(src, dst net.IP, proto Protocol, length int) []byte {
	h := make([]byte, 40)
	copy(h[0:16], src.To16())
	copy(h[16:32], dst.To16())
	binary.BigEndian.PutUint32(h[32:36], uint32(length))
	h[39] = byte(proto)
	return h
}

// transportChecksum computes the checksum of a TCP or UDP segment over the
// given IP pseudo-header, header bytes, and payload, per RFC 793/768.
func transportChecksum(pseudo, header, payload []byte) uint16 {
	buf := make([]byte, 0, len(pseudo)+len(header)+len(payload))
	buf = append(buf, pseudo...)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	return checksum(buf)
}

// ipv4HeaderChecksum computes the IPv4 header checksum over header, which
// must have its checksum field zeroed.
func ipv4HeaderChecksum(header []byte) uint16 {
	return checksum(header)
}
