package packet

// TCPOptionKind identifies a TCP option by its wire kind byte.
type TCPOptionKind uint8

// Option kinds the engine understands per RFC 793/1323/2018 (§4.A).
// Unknown kinds round-trip with their raw kind byte and value.
const (
	OptEndOfList     TCPOptionKind = 0
	OptNOP           TCPOptionKind = 1
	OptMSS           TCPOptionKind = 2
	OptWindowScale   TCPOptionKind = 3
	OptSACKPermitted TCPOptionKind = 4
	OptTimestamp     TCPOptionKind = 8
)

// TCPOption is one entry in a TCP header's option list. Order is preserved
// as written by callers and as parsed from the wire, since order is
// semantically significant for OS fingerprinting (§4.A).
type TCPOption struct {
	Kind TCPOptionKind
	// Bytes holds the option's value bytes (excluding kind/length octets).
	// Interpretation depends on Kind; options of an unknown kind carry their
	// raw value here unmodified.
	Bytes []byte
}

// MSS returns a Maximum Segment Size option (kind 2, len 4).
func MSS(value uint16) TCPOption {
	return TCPOption{Kind: OptMSS, Bytes: []byte{byte(value >> 8), byte(value)}}
}

// WindowScale returns a Window Scale option (kind 3, len 3).
func WindowScale(shift uint8) TCPOption {
	return TCPOption{Kind: OptWindowScale, Bytes: []byte{shift}}
}

// SACKPermitted returns a SACK-Permitted option (kind 4, len 2).
func SACKPermitted() TCPOption {
	return TCPOption{Kind: OptSACKPermitted, Bytes: nil}
}

// Timestamp returns a Timestamp option (kind 8, len 10).
func Timestamp(tsval, tsecr uint32) TCPOption {
	b := make([]byte, 8)
	putUint32(b[0:4], tsval)
	putUint32(b[4:8], tsecr)
	return TCPOption{Kind: OptTimestamp, Bytes: b}
}

// NOPOption returns a single no-operation padding option (kind 1, len 1).
func NOPOption() TCPOption {
	return TCPOption{Kind: OptNOP, Bytes: nil}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// encodeTCPOptions renders the option list to wire form, padding with
// end-of-list bytes to a multiple of four. It fails with InvalidPacket if
// the encoding exceeds the 40-byte TCP options budget.
func encodeTCPOptions(opts []TCPOption) ([]byte, error) {
	var buf []byte

	for _, opt := range opts {
		switch opt.Kind {
		case OptEndOfList, OptNOP:
			buf = append(buf, byte(opt.Kind))
		default:
			length := len(opt.Bytes) + 2
			if length > 255 {
				return nil, invalidPacket("tcp option value too large")
			}
			buf = append(buf, byte(opt.Kind), byte(length))
			buf = append(buf, opt.Bytes...)
		}
	}

	for len(buf)%4 != 0 {
		buf = append(buf, byte(OptEndOfList))
	}

	if len(buf) > 40 {
		return nil, invalidPacket("tcp options exceed 40 bytes")
	}

	return buf, nil
}

// decodeTCPOptions parses the wire form of a TCP option list.
func decodeTCPOptions(data []byte) ([]TCPOption, error) {
	var opts []TCPOption

	for i := 0; i < len(data); {
		kind := TCPOptionKind(data[i])

		switch kind {
		case OptEndOfList:
			return opts, nil
		case OptNOP:
			opts = append(opts, TCPOption{Kind: OptNOP})
			i++
			continue
		}

		if i+1 >= len(data) {
			return nil, invalidPacket("truncated tcp option")
		}
		length := int(data[i+1])
		if length < 2 || i+length > len(data) {
			return nil, invalidPacket("malformed tcp option length")
		}

		opts = append(opts, TCPOption{Kind: kind, Bytes: append([]byte(nil), data[i+2:i+length]...)})
		i += length
	}

	return opts, nil
}
