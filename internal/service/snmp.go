package service

import (
	"fmt"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"
)

const sysDescrOID = ".1.3.6.1.2.1.1.1.0"

// querySNMP owns its own connection lifecycle (dial, get, close) rather
// than reusing a caller-supplied net.Conn, since gosnmp's client dials
// its own UDP socket internally (§4.E SNMP; see DESIGN.md for why the
// port scanner's UDP probe uses a hand-rolled request instead).
func querySNMP(host net.IP, port uint16, timeout time.Duration) (string, error) {
	client := &gosnmp.GoSNMP{
		Target:    host.String(),
		Port:      port,
		Community: "public",
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   0,
	}
	if err := client.Connect(); err != nil {
		return "", fmt.Errorf("snmp connect: %w", err)
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{sysDescrOID})
	if err != nil {
		return "", fmt.Errorf("snmp get: %w", err)
	}
	if len(result.Variables) == 0 {
		return "", fmt.Errorf("snmp get: empty response")
	}

	switch v := result.Variables[0].Value.(type) {
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
