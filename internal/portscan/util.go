package portscan

import (
	"fmt"
	"net"
)

// localIPFor returns the local address the kernel would use to reach dst,
// without sending anything (a connected UDP socket never touches the wire
// until a write happens).
func localIPFor(dst net.IP) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(dst.String(), "9"))
	if err != nil {
		return nil, fmt.Errorf("resolve local address for %s: %w", dst, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type for %s", dst)
	}
	return addr.IP, nil
}
