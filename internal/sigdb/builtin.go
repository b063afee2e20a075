package sigdb

// builtinSignatures is the curated default signature set (§4.G, "ship a
// small curated built-in set, let a --sigdb file extend or override it").
// Grounded on
// _examples/original_source/src/os_fingerprint/fingerprint_db.rs's
// load_builtin_signatures: the same six OS families, TTL/window ranges,
// and option orderings, translated into this package's signature shape.
var builtinSignatures = []OsSignature{
	{
		OSName:    "Linux 2.6+",
		OSVersion: "2.6.x - 5.x",
		OSFamily:  "Linux",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{64, 64},
			WindowSizeRange: [2]uint32{29200, 29200},
			TypicalMSS:      uint16Ptr(1460),
			DFFlag:          ptrBool(true),
			ECNSupport:      ptrBool(false),
			TCPOptions:      []string{"mss", "sack_permitted", "timestamp", "nop", "window_scale"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:         [2]uint8{64, 64},
			EchoesPayload:    ptrBool(true),
			RateLimitPattern: "fixed",
		},
		ConfidenceWeight: 1.0,
	},
	{
		OSName:    "Windows 10/11",
		OSVersion: "10.0+",
		OSFamily:  "Windows",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{128, 128},
			WindowSizeRange: [2]uint32{8192, 65535},
			TypicalMSS:      uint16Ptr(1460),
			DFFlag:          ptrBool(true),
			ECNSupport:      ptrBool(false),
			TCPOptions:      []string{"mss", "nop", "window_scale", "nop", "nop", "sack_permitted"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:         [2]uint8{128, 128},
			EchoesPayload:    ptrBool(true),
			RateLimitPattern: "burst_throttle",
		},
		ConfidenceWeight: 1.0,
	},
	{
		OSName:    "macOS",
		OSVersion: "10.x - 13.x",
		OSFamily:  "macOS",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{64, 64},
			WindowSizeRange: [2]uint32{65535, 65535},
			TypicalMSS:      uint16Ptr(1460),
			DFFlag:          ptrBool(true),
			ECNSupport:      ptrBool(false),
			TCPOptions:      []string{"mss", "nop", "window_scale", "nop", "nop", "timestamp", "sack_permitted", "eol"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:      [2]uint8{64, 64},
			EchoesPayload: ptrBool(true),
			// The original's "Adaptive" rate-limit class has no
			// counterpart in ICMPRatePattern; left unset so the
			// rate-limit check is skipped rather than forced wrong.
		},
		ConfidenceWeight: 1.0,
	},
	{
		OSName:    "FreeBSD",
		OSVersion: "11.x - 13.x",
		OSFamily:  "BSD",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{64, 64},
			WindowSizeRange: [2]uint32{65535, 65535},
			TypicalMSS:      uint16Ptr(1460),
			DFFlag:          ptrBool(true),
			ECNSupport:      ptrBool(false),
			TCPOptions:      []string{"mss", "nop", "window_scale", "sack_permitted", "timestamp"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:         [2]uint8{64, 64},
			EchoesPayload:    ptrBool(true),
			RateLimitPattern: "none",
		},
		ConfidenceWeight: 1.0,
	},
	{
		OSName:   "Cisco IOS",
		OSFamily: "Cisco",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{255, 255},
			WindowSizeRange: [2]uint32{4128, 4128},
			TypicalMSS:      uint16Ptr(1460),
			DFFlag:          ptrBool(false),
			ECNSupport:      ptrBool(false),
			TCPOptions:      []string{"mss"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:         [2]uint8{255, 255},
			EchoesPayload:    ptrBool(false),
			RateLimitPattern: "fixed",
		},
		ConfidenceWeight: 1.0,
	},
	{
		OSName:    "Embedded Linux",
		OSVersion: "BusyBox/OpenWrt",
		OSFamily:  "Embedded",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{64, 64},
			WindowSizeRange: [2]uint32{5840, 5840},
			TypicalMSS:      uint16Ptr(1460),
			DFFlag:          ptrBool(true),
			ECNSupport:      ptrBool(false),
			TCPOptions:      []string{"mss", "sack_permitted", "window_scale"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:         [2]uint8{64, 64},
			EchoesPayload:    ptrBool(true),
			RateLimitPattern: "none",
		},
		ConfidenceWeight: 0.8,
	},
}

// Builtin returns a fresh curated database of the signatures above. It
// never returns nil, so an orchestrator given no --sigdb file still
// matches against something rather than skipping component G entirely.
func Builtin() *Database {
	return &Database{
		Metadata: Metadata{
			Name:           "builtin",
			Version:        "1",
			Description:    "curated built-in OS signatures shipped with osprey",
			SignatureCount: len(builtinSignatures),
		},
		Signatures: append([]OsSignature(nil), builtinSignatures...),
	}
}

func ptrBool(v bool) *bool       { return &v }
func uint16Ptr(v uint16) *uint16 { return &v }
