package service

import "github.com/miekg/dns"

// classifyDNSReply turns a raw UDP reply from port 53 into the synthetic
// banner the "dns" signature matches, confirming the reply actually
// unpacks as a DNS message rather than assuming from the port alone.
func classifyDNSReply(raw []byte) (string, bool) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return "", false
	}
	return "dns-response", true
}
