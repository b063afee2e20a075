//go:build !linux

package discovery

import (
	"context"
	"fmt"
	"net"
)

func arpPlatformSupported() bool { return false }

// probeARP is unavailable outside Linux: AF_PACKET link-layer sockets have
// no portable Go equivalent. probeHost treats this as a failed method and
// falls through to ICMP, same as when raw sockets are unavailable.
func (e *Engine) probeARP(_ context.Context, _ net.IP) (bool, error) {
	return false, fmt.Errorf("arp probing not supported on this platform")
}
