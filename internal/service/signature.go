package service

import "regexp"

// MatchStrength scores how precisely a pattern matched a banner (§4.E).
type MatchStrength float64

const (
	StrengthNone    MatchStrength = 0
	StrengthPartial MatchStrength = 0.5
	StrengthRegex   MatchStrength = 0.75
	StrengthLiteral MatchStrength = 1.0
)

// Pattern is either a literal substring or a regular expression. A regex
// with a capture group extracts a version string on match.
type Pattern struct {
	Literal string
	Regex   *regexp.Regexp
}

// Signature is a ServiceSignature: a named service with one or more banner
// patterns, a set of ports it's conventionally found on, and the weight
// its matches carry relative to other signatures (§3 ServiceSignature).
type Signature struct {
	Name             string
	Patterns         []Pattern
	PreferredPorts   []uint16
	ConfidenceWeight float64
}

func (s Signature) prefersPort(port uint16) bool {
	for _, p := range s.PreferredPorts {
		if p == port {
			return true
		}
	}
	return false
}

// match returns the best strength this signature achieves against banner,
// plus any version string extracted by a capturing regex.
func (s Signature) match(banner string) (MatchStrength, string) {
	best := StrengthNone
	version := ""
	for _, p := range s.Patterns {
		if p.Regex != nil {
			sub := p.Regex.FindStringSubmatch(banner)
			if sub == nil {
				continue
			}
			strength := StrengthRegex
			if sub[0] == banner {
				strength = StrengthLiteral
			}
			if strength > best {
				best = strength
				if len(sub) > 1 {
					version = sub[1]
				}
			}
			continue
		}
		if p.Literal == "" {
			continue
		}
		if banner == p.Literal {
			if StrengthLiteral > best {
				best = StrengthLiteral
			}
			continue
		}
		if containsFold(banner, p.Literal) {
			if StrengthPartial > best {
				best = StrengthPartial
			}
		}
	}
	return best, version
}

func containsFold(haystack, needle string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return len(needle) == 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if equalFold(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func lit(literal string) Pattern { return Pattern{Literal: literal} }

func rx(pattern string) Pattern { return Pattern{Regex: regexp.MustCompile(pattern)} }

// DefaultSignatures is the built-in ServiceSignature set covering the
// services this package's probes (§4.E) know how to elicit a banner from.
// Additional signatures loaded from the fingerprint database (§4.G) are
// appended by callers, not merged here.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Name:             "openssh",
			Patterns:         []Pattern{rx(`^SSH-2\.0-OpenSSH_([\w.]+)`)},
			PreferredPorts:   []uint16{22},
			ConfidenceWeight: 0.95,
		},
		{
			Name:             "ssh",
			Patterns:         []Pattern{rx(`^SSH-\d\.\d-`)},
			PreferredPorts:   []uint16{22},
			ConfidenceWeight: 0.6,
		},
		{
			Name:             "ftp",
			Patterns:         []Pattern{rx(`^220[ -].*FTP`), lit("220 ")},
			PreferredPorts:   []uint16{21},
			ConfidenceWeight: 0.7,
		},
		{
			Name:             "smtp",
			Patterns:         []Pattern{rx(`^220[ -].*(SMTP|ESMTP)`)},
			PreferredPorts:   []uint16{25, 587},
			ConfidenceWeight: 0.8,
		},
		{
			Name:             "pop3",
			Patterns:         []Pattern{rx(`^\+OK`)},
			PreferredPorts:   []uint16{110},
			ConfidenceWeight: 0.6,
		},
		{
			Name:             "imap",
			Patterns:         []Pattern{rx(`^\* OK`)},
			PreferredPorts:   []uint16{143, 220},
			ConfidenceWeight: 0.6,
		},
		{
			Name:             "http",
			Patterns:         []Pattern{rx(`^HTTP/1\.[01] \d{3}`)},
			PreferredPorts:   []uint16{80, 8080, 8000},
			ConfidenceWeight: 0.85,
		},
		{
			Name:             "nginx",
			Patterns:         []Pattern{rx(`(?i)Server:\s*nginx(?:/([\d.]+))?`)},
			PreferredPorts:   []uint16{80, 443},
			ConfidenceWeight: 0.9,
		},
		{
			Name:             "apache",
			Patterns:         []Pattern{rx(`(?i)Server:\s*Apache(?:/([\d.]+))?`)},
			PreferredPorts:   []uint16{80, 443},
			ConfidenceWeight: 0.9,
		},
		{
			Name:             "redis",
			Patterns:         []Pattern{rx(`redis_version:([\d.]+)`), lit("-ERR")},
			PreferredPorts:   []uint16{6379},
			ConfidenceWeight: 0.9,
		},
		{
			Name:             "memcached",
			Patterns:         []Pattern{rx(`^STAT pid \d+`), lit("ERROR")},
			PreferredPorts:   []uint16{11211},
			ConfidenceWeight: 0.8,
		},
		{
			Name:             "mysql",
			Patterns:         []Pattern{rx(`([\d.]+-MariaDB|[\d.]+)\x00`)},
			PreferredPorts:   []uint16{3306},
			ConfidenceWeight: 0.85,
		},
		{
			Name:             "dns",
			Patterns:         []Pattern{lit("dns-response")},
			PreferredPorts:   []uint16{53},
			ConfidenceWeight: 0.7,
		},
		{
			Name:             "snmp",
			Patterns:         []Pattern{lit("snmp-response")},
			PreferredPorts:   []uint16{161},
			ConfidenceWeight: 0.7,
		},
		{
			Name:             "tls",
			Patterns:         []Pattern{rx(`^tls:`)},
			PreferredPorts:   []uint16{443, 8443},
			ConfidenceWeight: 0.6,
		},
	}
}
