package sigdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/osprey/internal/errors"
)

// Format is a signature database encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// knownMetadataKeys and knownSignatureKeys list the struct-backed JSON/YAML
// keys; anything else round-trips through Extra.
var knownMetadataKeys = map[string]bool{
	"name": true, "version": true, "created": true, "modified": true,
	"signature_count": true, "description": true, "author": true,
}

var knownSignatureKeys = map[string]bool{
	"os_name": true, "os_version": true, "os_family": true,
	"tcp_signature": true, "icmp_signature": true, "udp_signature": true,
	"protocol_hints": true, "clock_skew_class": true, "confidence_weight": true,
}

// detectFormat auto-detects the encoding by extension, falling back to
// content sniffing when the extension is absent or unrecognized (§6:
// "Loader auto-detects by extension or content sniff").
func detectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads and decodes a signature database from path.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature database %s: %w", path, err)
	}
	return LoadBytes(data, detectFormat(path, data))
}

// LoadBytes decodes a signature database already in memory, given an
// explicit format.
func LoadBytes(data []byte, format Format) (*Database, error) {
	db := &Database{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, db)
	case FormatYAML:
		err = yaml.Unmarshal(data, db)
	default:
		return nil, fmt.Errorf("unknown signature database format %q", format)
	}
	if err != nil {
		return nil, errors.ErrMalformedSignature(string(format), err)
	}
	return db, nil
}

// Store encodes db and writes it to path, choosing the format from
// path's extension (defaulting to JSON for an unrecognized extension).
func Store(path string, db *Database) error {
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	data, err := StoreBytes(db, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write signature database %s: %w", path, err)
	}
	return nil
}

// StoreBytes encodes db in the given format.
func StoreBytes(db *Database, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(db, "", "  ")
	case FormatYAML:
		return yaml.Marshal(db)
	default:
		return nil, fmt.Errorf("unknown signature database format %q", format)
	}
}

// metadataAlias avoids infinite recursion through Metadata's custom
// (un)marshalers below.
type metadataAlias Metadata

// MarshalJSON merges Extra back into the encoded object so unrecognized
// keys present at load time survive a Store round-trip.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return mergeExtraJSON(metadataAlias(m), m.Extra)
}

// UnmarshalJSON decodes the known fields and stashes anything else in
// Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = Metadata(alias)
	m.Extra = extraJSON(data, knownMetadataKeys)
	return nil
}

func (m Metadata) MarshalYAML() (interface{}, error) {
	return mergeExtraYAML(metadataAlias(m), m.Extra)
}

func (m *Metadata) UnmarshalYAML(value *yaml.Node) error {
	var alias metadataAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*m = Metadata(alias)
	m.Extra = extraYAML(value, knownMetadataKeys)
	return nil
}

type signatureAlias OsSignature

func (s OsSignature) MarshalJSON() ([]byte, error) {
	return mergeExtraJSON(signatureAlias(s), s.Extra)
}

func (s *OsSignature) UnmarshalJSON(data []byte) error {
	var alias signatureAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = OsSignature(alias)
	s.Extra = extraJSON(data, knownSignatureKeys)
	return nil
}

func (s OsSignature) MarshalYAML() (interface{}, error) {
	return mergeExtraYAML(signatureAlias(s), s.Extra)
}

func (s *OsSignature) UnmarshalYAML(value *yaml.Node) error {
	var alias signatureAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*s = OsSignature(alias)
	s.Extra = extraYAML(value, knownSignatureKeys)
	return nil
}

// extraJSON returns every top-level key of data not in known.
func extraJSON(data []byte, known map[string]bool) map[string]interface{} {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	extra := make(map[string]interface{})
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// mergeExtraJSON marshals alias to a map, overlays extra for any key
// alias didn't already set, and re-marshals.
func mergeExtraJSON(alias interface{}, extra map[string]interface{}) ([]byte, error) {
	known, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return known, nil
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func extraYAML(value *yaml.Node, known map[string]bool) map[string]interface{} {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return nil
	}
	extra := make(map[string]interface{})
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func mergeExtraYAML(alias interface{}, extra map[string]interface{}) (interface{}, error) {
	if len(extra) == 0 {
		return alias, nil
	}
	data, err := yaml.Marshal(alias)
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return merged, nil
}
