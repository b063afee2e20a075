// Package sigdb implements the Signature Database and fuzzy matcher
// (§4.G): a process-wide, read-only collection of OS fingerprint
// signatures loaded from JSON or YAML at startup, plus the scoring
// engine that ranks an osfp.Fingerprint against every signature in it.
package sigdb

import "time"

// Metadata describes a signature database file (§6).
type Metadata struct {
	Name            string    `json:"name" yaml:"name"`
	Version         string    `json:"version" yaml:"version"`
	Created         time.Time `json:"created" yaml:"created"`
	Modified        time.Time `json:"modified" yaml:"modified"`
	SignatureCount  int       `json:"signature_count" yaml:"signature_count"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
	Author          string    `json:"author,omitempty" yaml:"author,omitempty"`

	// Extra holds any top-level key under "metadata" this version of
	// osprey does not recognize, so Store round-trips it unchanged.
	Extra map[string]interface{} `json:"-" yaml:"-"`
}

// TCPSignature is the TCP sub-vector of an OsSignature (§3 OsSignature,
// §4.G TCP sub-score).
type TCPSignature struct {
	TTLRange        [2]uint8  `json:"ttl_range" yaml:"ttl_range"`
	WindowSizeRange [2]uint32 `json:"window_size_range" yaml:"window_size_range"`
	TypicalMSS      *uint16   `json:"typical_mss,omitempty" yaml:"typical_mss,omitempty"`
	DFFlag          *bool     `json:"df_flag,omitempty" yaml:"df_flag,omitempty"`
	ECNSupport      *bool     `json:"ecn_support,omitempty" yaml:"ecn_support,omitempty"`
	TCPOptions      []string  `json:"tcp_options,omitempty" yaml:"tcp_options,omitempty"`
}

// ICMPSignature is the ICMP sub-vector.
type ICMPSignature struct {
	TTLRange         [2]uint8 `json:"ttl_range" yaml:"ttl_range"`
	EchoesPayload    *bool    `json:"icmp_echoes_payload,omitempty" yaml:"icmp_echoes_payload,omitempty"`
	RateLimitPattern string   `json:"icmp_rate_limit_pattern,omitempty" yaml:"icmp_rate_limit_pattern,omitempty"`
}

// UDPSignature is the UDP sub-vector.
type UDPSignature struct {
	ResponsePattern string `json:"udp_response_pattern,omitempty" yaml:"udp_response_pattern,omitempty"`
}

// ProtocolHintSignature is the expected application-layer OS hints.
type ProtocolHintSignature struct {
	SSHOSHints  []string `json:"ssh_os_hints,omitempty" yaml:"ssh_os_hints,omitempty"`
	HTTPOSHints []string `json:"http_os_hints,omitempty" yaml:"http_os_hints,omitempty"`
}

// ClockSkewClass names one of the clock-frequency classes §4.G scores
// against (∼64 / ∼100 / ∼250 / ∼1000 Hz).
type ClockSkewClass string

const (
	ClockSkew64Hz   ClockSkewClass = "64hz"
	ClockSkew100Hz  ClockSkewClass = "100hz"
	ClockSkew250Hz  ClockSkewClass = "250hz"
	ClockSkew1000Hz ClockSkewClass = "1000hz"
)

// Frequency returns the nominal Hz for a clock-skew class, or 0 if c is
// empty or unrecognized.
func (c ClockSkewClass) Frequency() float64 {
	switch c {
	case ClockSkew64Hz:
		return 64
	case ClockSkew100Hz:
		return 100
	case ClockSkew250Hz:
		return 250
	case ClockSkew1000Hz:
		return 1000
	default:
		return 0
	}
}

// OsSignature is one database entry, keyed by (OSName, OSVersion) (§3
// OsSignature).
type OsSignature struct {
	OSName           string                 `json:"os_name" yaml:"os_name"`
	OSVersion        string                 `json:"os_version,omitempty" yaml:"os_version,omitempty"`
	OSFamily         string                 `json:"os_family" yaml:"os_family"`
	TCPSignature     *TCPSignature          `json:"tcp_signature,omitempty" yaml:"tcp_signature,omitempty"`
	ICMPSignature    *ICMPSignature         `json:"icmp_signature,omitempty" yaml:"icmp_signature,omitempty"`
	UDPSignature     *UDPSignature          `json:"udp_signature,omitempty" yaml:"udp_signature,omitempty"`
	ProtocolHints    *ProtocolHintSignature `json:"protocol_hints,omitempty" yaml:"protocol_hints,omitempty"`
	ClockSkewClass   ClockSkewClass         `json:"clock_skew_class,omitempty" yaml:"clock_skew_class,omitempty"`
	ConfidenceWeight float32                `json:"confidence_weight" yaml:"confidence_weight" validate:"gte=0,lte=1"`

	// Extra holds unrecognized keys of this signature object.
	Extra map[string]interface{} `json:"-" yaml:"-"`
}

// Key identifies a signature for deduplication (§4.G merge).
func (s OsSignature) Key() string {
	return s.OSName + "\x00" + s.OSVersion
}

// Database is a loaded signature file: metadata plus the signature set
// (§4.G). It is shared immutably once loaded; callers never mutate a
// Database returned by Load.
type Database struct {
	Metadata   Metadata      `json:"metadata" yaml:"metadata"`
	Signatures []OsSignature `json:"signatures" yaml:"signatures"`
}
