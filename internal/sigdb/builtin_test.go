package sigdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinReturnsCuratedSignatureSet(t *testing.T) {
	db := Builtin()
	require.NotNil(t, db)
	assert.Len(t, db.Signatures, 6)
	assert.Equal(t, len(db.Signatures), db.Metadata.SignatureCount)
}

func TestBuiltinIncludesLinuxAndWindowsSignatures(t *testing.T) {
	db := Builtin()
	byName := make(map[string]OsSignature, len(db.Signatures))
	for _, sig := range db.Signatures {
		byName[sig.OSName] = sig
	}

	linux, ok := byName["Linux 2.6+"]
	require.True(t, ok)
	assert.Equal(t, "Linux", linux.OSFamily)
	require.NotNil(t, linux.TCPSignature)
	assert.Equal(t, [2]uint8{64, 64}, linux.TCPSignature.TTLRange)

	windows, ok := byName["Windows 10/11"]
	require.True(t, ok)
	assert.Equal(t, "Windows", windows.OSFamily)
	require.NotNil(t, windows.TCPSignature)
	assert.Equal(t, [2]uint8{128, 128}, windows.TCPSignature.TTLRange)
}

func TestBuiltinPassesValidation(t *testing.T) {
	report := Validate(Builtin())
	assert.True(t, report.OK(), "issues: %v", report.Issues)
}

func TestBuiltinIsCopiedNotShared(t *testing.T) {
	a := Builtin()
	b := Builtin()
	a.Signatures[0].OSName = "mutated"
	assert.NotEqual(t, "mutated", b.Signatures[0].OSName)
}
