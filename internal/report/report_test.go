package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/osprey/internal/orchestrator"
	"github.com/anstrom/osprey/internal/portscan"
	"github.com/anstrom/osprey/internal/service"
	"github.com/anstrom/osprey/internal/sigdb"
)

func sampleResults() []orchestrator.HostResult {
	return []orchestrator.HostResult{
		{
			Target: "192.0.2.1",
			Status: orchestrator.HostUp,
			PortResults: []portscan.PortResult{
				{Port: 22, Status: portscan.StatusOpen, Technique: portscan.TechniqueTCPConnect},
				{Port: 443, Status: portscan.StatusOpen, Technique: portscan.TechniqueTCPConnect},
				{Port: 25, Status: portscan.StatusClosed, Technique: portscan.TechniqueTCPConnect},
			},
			Services: map[uint16]service.Match{
				22: {Service: "ssh", Version: "OpenSSH 9.0"},
			},
			OSMatches: &sigdb.MatchResult{
				BestMatch: &sigdb.FuzzyScore{OSName: "Linux", OSVersion: "5.x", ConfidenceLabel: "High"},
			},
			ScanDuration: 250 * time.Millisecond,
		},
		{
			Target: "192.0.2.2",
			Status: orchestrator.HostDown,
			ScanDuration: 10 * time.Millisecond,
		},
	}
}

func TestWriteResultsTableIncludesTargetsAndPorts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, sampleResults(), FormatTable))

	out := buf.String()
	assert.Contains(t, out, "192.0.2.1")
	assert.Contains(t, out, "192.0.2.2")
	assert.Contains(t, out, "ssh")
}

func TestWriteResultsJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, sampleResults(), FormatJSON))

	var rows []summaryRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "192.0.2.1", rows[0].Target)
	assert.Equal(t, "Up", rows[0].Status)
	assert.Equal(t, "Linux 5.x", rows[0].OSGuess)
	assert.Equal(t, "High", rows[0].OSConfidence)
	require.Len(t, rows[0].OpenPorts, 2)
	assert.Equal(t, uint16(22), rows[0].OpenPorts[0].Port)
}

func TestWriteResultsYAMLProducesParseableOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, sampleResults(), FormatYAML))
	assert.Contains(t, buf.String(), "target: 192.0.2.1")
}

func TestWriteResultsDefaultsToTableWhenFormatEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, sampleResults(), ""))
	assert.Contains(t, buf.String(), "192.0.2.1")
}

func TestWriteResultsRejectsUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := WriteResults(&buf, sampleResults(), Format("xml"))
	assert.Error(t, err)
}

func TestToSummaryRowsCapturesErrorMessage(t *testing.T) {
	results := []orchestrator.HostResult{{Target: "10.0.0.1", Status: orchestrator.HostUnknown, Error: assertErr{"boom"}}}
	rows := toSummaryRows(results)
	require.Len(t, rows, 1)
	assert.Equal(t, "boom", rows[0].Error)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
