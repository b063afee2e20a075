package sigdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsWellFormedSignature(t *testing.T) {
	db := &Database{Signatures: []OsSignature{
		{
			OSName:           "Linux",
			OSVersion:        "5.x",
			OSFamily:         "linux",
			ConfidenceWeight: 0.9,
			TCPSignature: &TCPSignature{
				TTLRange:        [2]uint8{60, 64},
				WindowSizeRange: [2]uint32{5840, 29200},
			},
		},
	}}

	report := Validate(db)
	assert.True(t, report.OK())
	assert.Len(t, report.Valid, 1)
	assert.Empty(t, report.Invalid)
}

func TestValidateFlagsMissingOSName(t *testing.T) {
	db := &Database{Signatures: []OsSignature{{OSFamily: "linux", ConfidenceWeight: 0.5}}}
	report := Validate(db)
	assert.False(t, report.OK())
	assert.Contains(t, report.Issues[0], "missing os_name")
}

func TestValidateFlagsOutOfRangeConfidenceWeight(t *testing.T) {
	db := &Database{Signatures: []OsSignature{
		{OSName: "Linux", OSFamily: "linux", ConfidenceWeight: 1.5},
	}}
	report := Validate(db)
	assert.False(t, report.OK())
}

func TestValidateFlagsInvertedTTLRange(t *testing.T) {
	db := &Database{Signatures: []OsSignature{
		{
			OSName: "Linux", OSFamily: "linux", ConfidenceWeight: 0.5,
			TCPSignature: &TCPSignature{TTLRange: [2]uint8{64, 60}},
		},
	}}
	report := Validate(db)
	assert.False(t, report.OK())
	found := false
	for _, issue := range report.Issues {
		if issue == "Linux: tcp_signature.ttl_range is inverted" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateFlagsDuplicateKey(t *testing.T) {
	db := &Database{Signatures: []OsSignature{
		{OSName: "Linux", OSVersion: "5.x", OSFamily: "linux", ConfidenceWeight: 0.5},
		{OSName: "Linux", OSVersion: "5.x", OSFamily: "linux", ConfidenceWeight: 0.6},
	}}
	report := Validate(db)
	assert.False(t, report.OK())
}
