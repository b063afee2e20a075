package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/osprey/internal/config"
	"github.com/anstrom/osprey/internal/portscan"
	"github.com/anstrom/osprey/internal/sigdb"
)

func TestNewWiresConfiguredTechniques(t *testing.T) {
	cfg := config.Default()
	o := New(cfg, nil)
	require.NotNil(t, o)
	defer o.Close()

	// TCP SYN scanning depends on raw socket privilege, which varies by
	// test environment, so only the always-available techniques are
	// asserted here.
	assert.NotNil(t, o.scanners[portscan.TechniqueTCPConnect])
	assert.NotNil(t, o.scanners[portscan.TechniqueUDP])
	assert.NotNil(t, o.detector)
	assert.NotNil(t, o.collector)
	assert.True(t, o.enableOSFingerprint)

	require.NotNil(t, o.sigDB)
	assert.Len(t, o.sigDB.Signatures, len(sigdb.Builtin().Signatures))
}

func TestNewMergesUserSignatureDatabaseOverBuiltins(t *testing.T) {
	cfg := config.Default()
	userDB := &sigdb.Database{Signatures: []sigdb.OsSignature{
		{OSName: "Linux 2.6+", OSVersion: "2.6.x - 5.x", OSFamily: "Linux", ConfidenceWeight: 0.42},
		{OSName: "Plan 9", OSFamily: "Unix", ConfidenceWeight: 1.0},
	}}
	o := New(cfg, userDB)
	defer o.Close()

	require.NotNil(t, o.sigDB)
	byName := make(map[string]sigdb.OsSignature, len(o.sigDB.Signatures))
	for _, sig := range o.sigDB.Signatures {
		byName[sig.OSName] = sig
	}

	// User-supplied entries win ties with the built-in set...
	linux, ok := byName["Linux 2.6+"]
	require.True(t, ok)
	assert.InDelta(t, 0.42, float64(linux.ConfidenceWeight), 0.0001)

	// ...and extend it rather than replacing it.
	_, ok = byName["Plan 9"]
	assert.True(t, ok)
	_, ok = byName["Windows 10/11"]
	assert.True(t, ok)
}

func TestNewSkipsDisabledTechniques(t *testing.T) {
	cfg := config.Default()
	cfg.TCPSYN.Enabled = false
	cfg.UDP.Enabled = false
	o := New(cfg, nil)
	defer o.Close()

	assert.Nil(t, o.scanners[portscan.TechniqueTCPSYN])
	assert.Nil(t, o.scanners[portscan.TechniqueUDP])
}

func TestTechniquePrefersSYNOverConnect(t *testing.T) {
	o := &Orchestrator{scanners: map[portscan.Technique]*portscan.Scanner{
		portscan.TechniqueTCPConnect: portscan.NewScanner(portscan.Config{}, nil),
		portscan.TechniqueTCPSYN:     portscan.NewScanner(portscan.Config{}, nil),
	}}

	tech, scanner, ok := o.technique()
	assert.True(t, ok)
	assert.Equal(t, portscan.TechniqueTCPSYN, tech)
	assert.NotNil(t, scanner)
}

func TestTechniqueFallsBackToConnectWhenSYNUnavailable(t *testing.T) {
	o := &Orchestrator{scanners: map[portscan.Technique]*portscan.Scanner{
		portscan.TechniqueTCPConnect: portscan.NewScanner(portscan.Config{}, nil),
	}}

	tech, _, ok := o.technique()
	assert.True(t, ok)
	assert.Equal(t, portscan.TechniqueTCPConnect, tech)
}

func TestTechniqueReportsUnavailableWhenNoneConfigured(t *testing.T) {
	o := &Orchestrator{scanners: map[portscan.Technique]*portscan.Scanner{}}
	_, _, ok := o.technique()
	assert.False(t, ok)
}

func TestDedupePreservesFirstOccurrenceOrder(t *testing.T) {
	out := dedupe([]string{"10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.3"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, out)
}

func TestPickAnchorPortsReturnsFirstOpenAndClosed(t *testing.T) {
	open, closed := pickAnchorPorts([]portscan.PortResult{
		{Port: 445, Status: portscan.StatusFiltered},
		{Port: 80, Status: portscan.StatusOpen},
		{Port: 22, Status: portscan.StatusClosed},
		{Port: 443, Status: portscan.StatusOpen},
	})
	assert.Equal(t, uint16(22), closed)
	assert.Equal(t, uint16(80), open)
}

func TestPickAnchorPortsReturnsZeroWhenMissingAStatus(t *testing.T) {
	open, closed := pickAnchorPorts([]portscan.PortResult{
		{Port: 80, Status: portscan.StatusOpen},
	})
	assert.Equal(t, uint16(80), open)
	assert.Equal(t, uint16(0), closed)
}
