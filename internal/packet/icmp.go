package packet

import "encoding/binary"

// BuildICMPEcho renders an ICMP echo-request message to wire bytes. The
// checksum is computed over the ICMP message alone (ICMP has no
// pseudo-header for IPv4; the IPv6 case is handled by the caller's raw
// socket layer, which supplies the pseudo-header via IPV6_CHECKSUM).
func BuildICMPEcho(id, seq uint16, payload []byte) []byte {
	msg := make([]byte, 8+len(payload))
	msg[0] = byte(ICMPTypeEchoRequest)
	msg[1] = 0
	binary.BigEndian.PutUint16(msg[2:4], 0)
	binary.BigEndian.PutUint16(msg[4:6], id)
	binary.BigEndian.PutUint16(msg[6:8], seq)
	copy(msg[8:], payload)

	cksum := checksum(msg)
	binary.BigEndian.PutUint16(msg[2:4], cksum)

	return msg
}

// ParseICMP parses an ICMP message from raw bytes.
func ParseICMP(data []byte) (*ICMPMessage, error) {
	if len(data) < 8 {
		return nil, invalidPacket("truncated icmp message")
	}

	return &ICMPMessage{
		Type:     ICMPType(data[0]),
		Code:     data[1],
		Checksum: binary.BigEndian.Uint16(data[2:4]),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		Seq:      binary.BigEndian.Uint16(data[6:8]),
		Payload:  append([]byte(nil), data[8:]...),
	}, nil
}
