package discovery

import (
	"errors"
	"net"
)

var errNoLocalInterface = errors.New("no local interface on target's subnet")

// arpSupported reports whether this platform's probeARP implementation can
// actually send/receive ARP frames. The portable build (arp_other.go)
// leaves this false, since ARP link-layer access has no portable Go API;
// probeHost simply falls through to ICMP in that case, matching ARP's
// "same link only" scope in §4.C.
var arpSupported = arpPlatformSupported()

// ifaceForTarget finds the local interface whose configured network
// contains target, i.e. the interface ARP would actually go out on.
func ifaceForTarget(target net.IP) (*net.Interface, net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}

	for i := range ifaces {
		iface := &ifaces[i]
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			if ipNet.Contains(target) {
				return iface, ipNet.IP, nil
			}
		}
	}

	return nil, nil, errNoLocalInterface
}
