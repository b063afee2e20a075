// Package packet provides a strongly-typed builder and parser for the raw
// IPv4, IPv6, TCP, UDP, and ICMP datagrams osprey sends and receives while
// scanning. Checksums are always computed by the engine; callers never hand
// in a pre-computed one.
package packet

import (
	"net"

	"github.com/anstrom/osprey/internal/errors"
)

// Protocol identifies the IP payload protocol carried by a packet.
type Protocol uint8

// Well-known IP protocol numbers used throughout the engine.
const (
	ProtoICMP   Protocol = 1
	ProtoTCP    Protocol = 6
	ProtoUDP    Protocol = 17
	ProtoICMPv6 Protocol = 58
)

// PayloadKind tags the typed payload carried inside a parsed IP packet.
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadTCP
	PayloadUDP
	PayloadICMP
	PayloadOther
)

// Ipv4Packet is the result of parsing a raw IPv4 datagram.
type Ipv4Packet struct {
	Version    uint8
	IHL        uint8
	TOS        uint8
	TotalLen   uint16
	ID         uint16
	Flags      uint8
	FragOffset uint16
	TTL        uint8
	Protocol   Protocol
	Checksum   uint16
	SrcIP      net.IP
	DstIP      net.IP

	PayloadKind PayloadKind
	TCP         *TCPSegment
	UDP         *UDPDatagram
	ICMP        *ICMPMessage
	Other       []byte
}

// Ipv6Packet is the result of parsing a raw IPv6 datagram.
type Ipv6Packet struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   Protocol
	HopLimit     uint8
	SrcIP        net.IP
	DstIP        net.IP

	PayloadKind PayloadKind
	TCP         *TCPSegment
	UDP         *UDPDatagram
	ICMP        *ICMPMessage
	Other       []byte
}

// TCPFlags is a bitmask of TCP control bits, using the wire encoding.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << 0
	FlagSYN TCPFlags = 1 << 1
	FlagRST TCPFlags = 1 << 2
	FlagPSH TCPFlags = 1 << 3
	FlagACK TCPFlags = 1 << 4
	FlagURG TCPFlags = 1 << 5
	FlagECE TCPFlags = 1 << 6
	FlagCWR TCPFlags = 1 << 7
)

// Has reports whether all bits in mask are set.
func (f TCPFlags) Has(mask TCPFlags) bool { return f&mask == mask }

// TCPSegment is a parsed or to-be-built TCP header plus payload.
type TCPSegment struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8
	Flags      TCPFlags
	Window     uint16
	Checksum   uint16
	UrgentPtr  uint16
	Options    []TCPOption
	Payload    []byte
}

// UDPDatagram is a parsed or to-be-built UDP header plus payload.
type UDPDatagram struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
	Payload  []byte
}

// ICMPType is the wire ICMP type byte (ICMPv4 numbering unless noted).
type ICMPType uint8

const (
	ICMPTypeEchoReply        ICMPType = 0
	ICMPTypeDestUnreachable  ICMPType = 3
	ICMPTypeEchoRequest      ICMPType = 8
	ICMPTypeTimeExceeded     ICMPType = 11
	ICMPTypeTimestampRequest ICMPType = 13
	ICMPTypeTimestampReply   ICMPType = 14
)

// Destination-unreachable codes relevant to port-scan classification (§4.D).
const (
	ICMPCodeNetUnreachable    uint8 = 0
	ICMPCodeHostUnreachable   uint8 = 1
	ICMPCodeProtoUnreachable  uint8 = 2
	ICMPCodePortUnreachable   uint8 = 3
	ICMPCodeFragNeeded        uint8 = 4
	ICMPCodeSourceRouteFailed uint8 = 5
	ICMPCodeNetUnknown        uint8 = 6
	ICMPCodeHostUnknown       uint8 = 7
	ICMPCodeHostIsolated      uint8 = 8
	ICMPCodeNetProhibited     uint8 = 9
	ICMPCodeHostProhibited    uint8 = 10
	ICMPCodeTOSNetUnreach     uint8 = 11
	ICMPCodeCommProhibited    uint8 = 13
)

// ICMPMessage is a parsed or to-be-built ICMP message.
type ICMPMessage struct {
	Type     ICMPType
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      uint16
	Payload  []byte
}

// invalidPacket is a shorthand for the InvalidPacket error kind.
func invalidPacket(msg string) error {
	return errors.ErrInvalidPacket(msg)
}
