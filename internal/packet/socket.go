package packet

import (
	"time"

	"github.com/anstrom/osprey/internal/errors"
)

// RawSocket sends and receives raw IP datagrams for one protocol. Writes
// are serialized by the caller; the OS layer expects one writer at a time
// per socket (§5).
type RawSocket interface {
	// Send transmits a fully-built IP packet (including its own IP header)
	// to dst.
	Send(dst string, packet []byte) error
	// Recv blocks for up to timeout waiting for the next inbound datagram.
	// It returns ErrTimeout (via the boolean) if nothing arrived in time.
	Recv(timeout time.Duration) (data []byte, timedOut bool, err error)
	// Close releases the underlying file descriptor.
	Close() error
}

// OpenRaw opens a raw socket for the given protocol. It fails with a
// PermissionDenied ScanError if the process lacks the required capability
// (typically CAP_NET_RAW); the caller decides whether to fall back to a
// higher-level technique such as TCP connect (§4.A).
func OpenRaw(proto Protocol) (RawSocket, error) {
	sock, err := openRawSocket(proto)
	if err != nil {
		return nil, errors.ErrPermissionDenied("open_raw", err)
	}
	return sock, nil
}
