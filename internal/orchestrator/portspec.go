package orchestrator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/anstrom/osprey/internal/errors"
)

const maxPort = 65535

// namedPresets are the built-in port lists §3 PortSpec names alongside
// range strings, grounded on the original implementation's port preset
// table.
var namedPresets = map[string][]uint16{
	"top100": {
		21, 22, 23, 25, 53, 80, 110, 111, 135, 139,
		143, 443, 445, 993, 995, 1723, 3306, 3389, 5900, 8080,
	},
	"web":      {80, 443, 8000, 8080, 8443, 8888},
	"mail":     {25, 110, 143, 465, 587, 993, 995},
	"database": {1433, 3306, 5432, 27017, 6379},
}

// ParsePortSpec expands a user-provided port range string ("22,80,443",
// "1-1024") or a named preset ("top100", "web", "all" = 1..=65535) into a
// deduplicated, sorted port list (§3 PortSpec, §4.H normalize step).
func ParsePortSpec(spec string) ([]uint16, error) {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if spec == "" {
		return nil, errors.NewScanError(errors.CodeValidation, "no ports specified")
	}

	if spec == "all" {
		all := make([]uint16, maxPort)
		for i := range all {
			all[i] = uint16(i + 1)
		}
		return all, nil
	}
	if preset, ok := namedPresets[spec]; ok {
		out := append([]uint16(nil), preset...)
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out, nil
	}

	seen := make(map[uint16]bool)
	var ports []uint16
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			lo, hi, err := parsePortRange(part)
			if err != nil {
				return nil, err
			}
			for p := lo; p <= hi; p++ {
				if !seen[p] {
					seen[p] = true
					ports = append(ports, p)
				}
			}
			continue
		}
		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	if len(ports) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "no ports specified")
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports, nil
}

func parsePortRange(part string) (uint16, uint16, error) {
	bounds := strings.SplitN(part, "-", 2)
	if len(bounds) != 2 {
		return 0, 0, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid port range: %s", part))
	}
	lo, err := parsePort(strings.TrimSpace(bounds[0]))
	if err != nil {
		return 0, 0, err
	}
	hi, err := parsePort(strings.TrimSpace(bounds[1]))
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid port range: %s (start > end)", part))
	}
	return lo, hi, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxPort {
		return 0, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid port: %q", s))
	}
	return uint16(n), nil
}
