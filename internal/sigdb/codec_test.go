package sigdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "metadata": {
    "name": "osprey-builtin",
    "version": "1.0",
    "created": "2026-01-01T00:00:00Z",
    "modified": "2026-01-01T00:00:00Z",
    "signature_count": 1,
    "curator": "unit-test"
  },
  "signatures": [
    {
      "os_name": "Linux",
      "os_version": "5.x",
      "os_family": "linux",
      "tcp_signature": {
        "ttl_range": [60, 64],
        "window_size_range": [5840, 29200],
        "typical_mss": 1460,
        "df_flag": true,
        "ecn_support": true,
        "tcp_options": ["mss", "sack_permitted", "timestamp", "nop", "window_scale"]
      },
      "confidence_weight": 0.9,
      "notes": "kept for round-trip test"
    }
  ]
}`

func TestLoadBytesJSONParsesKnownFields(t *testing.T) {
	db, err := LoadBytes([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	require.Len(t, db.Signatures, 1)

	sig := db.Signatures[0]
	assert.Equal(t, "Linux", sig.OSName)
	assert.Equal(t, "linux", sig.OSFamily)
	require.NotNil(t, sig.TCPSignature)
	assert.Equal(t, [2]uint8{60, 64}, sig.TCPSignature.TTLRange)
	assert.InDelta(t, 0.9, float64(sig.ConfidenceWeight), 0.0001)
}

func TestLoadBytesPreservesUnknownFields(t *testing.T) {
	db, err := LoadBytes([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "unit-test", db.Metadata.Extra["curator"])
	assert.Equal(t, "kept for round-trip test", db.Signatures[0].Extra["notes"])
}

func TestStoreBytesRoundTripsUnknownFields(t *testing.T) {
	db, err := LoadBytes([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	out, err := StoreBytes(db, FormatJSON)
	require.NoError(t, err)

	reloaded, err := LoadBytes(out, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "unit-test", reloaded.Metadata.Extra["curator"])
	assert.Equal(t, "kept for round-trip test", reloaded.Signatures[0].Extra["notes"])
}

func TestStoreBytesYAMLThenLoadBytesYAMLRoundTrips(t *testing.T) {
	db, err := LoadBytes([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	yamlBytes, err := StoreBytes(db, FormatYAML)
	require.NoError(t, err)

	reloaded, err := LoadBytes(yamlBytes, FormatYAML)
	require.NoError(t, err)
	require.Len(t, reloaded.Signatures, 1)
	assert.Equal(t, "Linux", reloaded.Signatures[0].OSName)
	assert.Equal(t, "unit-test", reloaded.Metadata.Extra["curator"])
}

func TestLoadAndStoreRoundTripThroughTempFile(t *testing.T) {
	db, err := LoadBytes([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, Store(path, db))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, db.Signatures[0].OSName, reloaded.Signatures[0].OSName)
}

func TestDetectFormatSniffsContentWhenExtensionMissing(t *testing.T) {
	assert.Equal(t, FormatJSON, detectFormat("signatures", []byte("  {\"metadata\":{}}")))
	assert.Equal(t, FormatYAML, detectFormat("signatures", []byte("metadata:\n  name: x\n")))
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSONReturnsMalformedSignatureError(t *testing.T) {
	_, err := LoadBytes([]byte("{not json"), FormatJSON)
	assert.Error(t, err)
}

func TestMetadataTimestampsParse(t *testing.T) {
	db, err := LoadBytes([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2026, db.Metadata.Created.Year())
	assert.True(t, db.Metadata.Modified.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}
