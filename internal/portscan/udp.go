package portscan

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/osprey/internal/packet"
)

// servicePayload returns a protocol-specific probe for well-known UDP
// services likely to answer only their own request format, falling back to
// a generic payload otherwise (§4.D UDP Scan).
func servicePayload(port uint16) []byte {
	switch port {
	case 53:
		return dnsQueryProbe()
	case 123:
		return ntpV3Probe()
	case 161:
		return snmpGetRequestProbe()
	default:
		return []byte("osprey-udp-probe")
	}
}

// dnsQueryProbe builds a standard NS query for the root zone, which any
// resolver will answer, using the same wire-format library the service
// detector uses for DNS.
func dnsQueryProbe() []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(".", dns.TypeNS)
	packed, err := msg.Pack()
	if err != nil {
		return []byte("osprey-udp-probe")
	}
	return packed
}

// ntpV3Probe builds a minimal NTPv3 client request.
func ntpV3Probe() []byte {
	msg := make([]byte, 48)
	msg[0] = 0x1b // LI=0, VN=3, Mode=3 (client)
	return msg
}

// snmpGetRequestProbe builds a minimal SNMPv1 get-request for sysDescr.0
// using the public community string.
func snmpGetRequestProbe() []byte {
	return []byte{
		0x30, 0x26, // SEQUENCE
		0x02, 0x01, 0x00, // version 1 (SNMPv1 == 0)
		0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
		0xa0, 0x19, // GetRequest PDU
		0x02, 0x01, 0x01, // request ID
		0x02, 0x01, 0x00, // error status
		0x02, 0x01, 0x00, // error index
		0x30, 0x0e, // varbind list
		0x30, 0x0c,
		0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01, 0x00, // sysDescr.0
		0x05, 0x00,
	}
}

// udpProbe sends a service-specific (or generic) datagram and classifies
// the reply (§4.D UDP Scan).
func (s *Scanner) udpProbe(ctx context.Context, host net.IP, port uint16) (Status, []byte, Provenance, bool, error) {
	select {
	case <-ctx.Done():
		return StatusFiltered, nil, ProvenanceNoResponse, true, ctx.Err()
	default:
	}

	addr := &net.UDPAddr{IP: host, Port: int(port)}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, err
	}
	defer conn.Close()

	if _, err := conn.Write(servicePayload(port)); err != nil {
		return StatusFiltered, nil, ProvenanceNoResponse, true, err
	}

	replyDeadline := time.Now().Add(s.cfg.Timeout)
	if err := conn.SetReadDeadline(replyDeadline); err == nil {
		buf := make([]byte, s.cfg.MaxBannerSize)
		n, _, err := conn.ReadFromUDP(buf)
		if err == nil && n > 0 {
			return StatusOpen, buf[:n], ProvenanceServiceReply, true, nil
		}
	}

	s.mu.Lock()
	icmpSock := s.icmpSocket
	s.mu.Unlock()
	if icmpSock == nil {
		// No ICMP visibility: §4.D's default verdict for "no response".
		return StatusOpenFiltered, nil, ProvenanceNoResponse, false, nil
	}

	remaining := time.Until(replyDeadline)
	if remaining <= 0 {
		return StatusOpenFiltered, nil, ProvenanceNoResponse, false, nil
	}

	data, timedOut, err := icmpSock.Recv(remaining)
	if err != nil {
		return StatusOpenFiltered, nil, ProvenanceNoResponse, false, nil
	}
	if timedOut {
		return StatusOpenFiltered, nil, ProvenanceNoResponse, false, nil
	}

	ipReply, err := packet.ParseIPv4(data)
	if err != nil || !ipReply.SrcIP.Equal(host) || ipReply.PayloadKind != packet.PayloadICMP {
		return StatusOpenFiltered, nil, ProvenanceNoResponse, false, nil
	}
	if ipReply.ICMP.Type != packet.ICMPTypeDestUnreachable {
		return StatusOpenFiltered, nil, ProvenanceNoResponse, false, nil
	}

	switch ipReply.ICMP.Code {
	case packet.ICMPCodePortUnreachable:
		return StatusClosed, nil, ProvenanceICMPUnreachable, true, nil
	default:
		return StatusFiltered, nil, ProvenanceICMPUnreachable, true, nil
	}
}
