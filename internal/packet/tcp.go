package packet

import (
	"encoding/binary"
	"net"
)

// BuildTCP renders a TCP segment to wire bytes with an RFC-correct checksum
// computed over the IPv4 or IPv6 pseudo-header. It fails with InvalidPacket
// if the option encoding exceeds 40 bytes or the resulting header length is
// not a multiple of four (§4.A).
func BuildTCP(srcIP, dstIP net.IP, srcPort, dstPort uint16, seq, ack uint32,
	flags TCPFlags, window uint16, options []TCPOption, payload []byte,
) ([]byte, error) {
	optBytes, err := encodeTCPOptions(options)
	if err != nil {
		return nil, err
	}

	headerLen := 20 + len(optBytes)
	if headerLen%4 != 0 {
		return nil, invalidPacket("tcp header length not a multiple of 4")
	}
	dataOffset := headerLen / 4
	if dataOffset > 15 {
		return nil, invalidPacket("tcp data offset exceeds 4-bit field")
	}

	header := make([]byte, headerLen)
	binary.BigEndian.PutUint16(header[0:2], srcPort)
	binary.BigEndian.PutUint16(header[2:4], dstPort)
	binary.BigEndian.PutUint32(header[4:8], seq)
	binary.BigEndian.PutUint32(header[8:12], ack)
	header[12] = byte(dataOffset << 4)
	header[13] = byte(flags)
	binary.BigEndian.PutUint16(header[14:16], window)
	// header[16:18] checksum, filled below
	binary.BigEndian.PutUint16(header[18:20], 0)
	copy(header[20:], optBytes)

	var pseudo []byte
	if isIPv4(dstIP) {
		pseudo = pseudoHeaderIPv4(srcIP, dstIP, ProtoTCP, len(header)+len(payload))
	} else {
		pseudo = pseudoHeaderIPv6(srcIP, dstIP, ProtoTCP, len(header)+len(payload))
	}

	cksum := transportChecksum(pseudo, header, payload)
	binary.BigEndian.PutUint16(header[16:18], cksum)

	return append(header, payload...), nil
}

// ParseTCP parses a TCP segment from raw bytes. It rejects truncated
// segments and never reads beyond the declared header length.
func ParseTCP(data []byte) (*TCPSegment, error) {
	if len(data) < 20 {
		return nil, invalidPacket("truncated tcp header")
	}

	dataOffset := int(data[12]>>4) * 4
	if dataOffset < 20 || dataOffset > len(data) {
		return nil, invalidPacket("malformed tcp data offset")
	}

	opts, err := decodeTCPOptions(data[20:dataOffset])
	if err != nil {
		return nil, err
	}

	return &TCPSegment{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		Seq:        binary.BigEndian.Uint32(data[4:8]),
		Ack:        binary.BigEndian.Uint32(data[8:12]),
		DataOffset: uint8(dataOffset / 4),
		Flags:      TCPFlags(data[13]),
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Checksum:   binary.BigEndian.Uint16(data[16:18]),
		UrgentPtr:  binary.BigEndian.Uint16(data[18:20]),
		Options:    opts,
		Payload:    append([]byte(nil), data[dataOffset:]...),
	}, nil
}

func isIPv4(ip net.IP) bool { return ip.To4() != nil }
