package sigdb

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationReport is the result of validating a Database (§4.G
// validate): which signatures passed, which failed, and why.
type ValidationReport struct {
	Valid   []string
	Invalid []string
	Issues  []string
}

// OK reports whether every signature in the database passed validation.
func (r ValidationReport) OK() bool {
	return len(r.Invalid) == 0
}

// Validate checks db for missing os_name, contradictory tolerance
// fields, and out-of-range confidence weights (§4.G validate).
func Validate(db *Database) ValidationReport {
	report := ValidationReport{}
	seen := make(map[string]bool)

	for i, sig := range db.Signatures {
		label := fmt.Sprintf("signature[%d]", i)
		if sig.OSName != "" {
			label = sig.OSName
			if sig.OSVersion != "" {
				label = sig.OSName + " " + sig.OSVersion
			}
		}

		var issues []string

		if sig.OSName == "" {
			issues = append(issues, label+": missing os_name")
		}
		if sig.OSFamily == "" {
			issues = append(issues, label+": missing os_family")
		}

		key := sig.Key()
		if seen[key] {
			issues = append(issues, label+": duplicate (os_name, os_version)")
		}
		seen[key] = true

		if err := validate.Struct(sig); err != nil {
			issues = append(issues, fmt.Sprintf("%s: confidence_weight out of [0,1]: %v", label, err))
		}

		if tcp := sig.TCPSignature; tcp != nil {
			if tcp.TTLRange[0] > tcp.TTLRange[1] {
				issues = append(issues, label+": tcp_signature.ttl_range is inverted")
			}
			if tcp.WindowSizeRange[0] > tcp.WindowSizeRange[1] {
				issues = append(issues, label+": tcp_signature.window_size_range is inverted")
			}
		}
		if icmp := sig.ICMPSignature; icmp != nil && icmp.TTLRange[0] > icmp.TTLRange[1] {
			issues = append(issues, label+": icmp_signature.ttl_range is inverted")
		}

		if len(issues) == 0 {
			report.Valid = append(report.Valid, label)
		} else {
			report.Invalid = append(report.Invalid, label)
			report.Issues = append(report.Issues, issues...)
		}
	}

	return report
}
