package sigdb

// Merge combines multiple databases into one, deduplicating signatures
// by (os_name, os_version) (§4.G merge). Later databases win ties, so a
// site-local override file passed after the bundled default database
// replaces its entries.
func Merge(dbs ...*Database) *Database {
	merged := &Database{
		Metadata: Metadata{
			Name:    "merged",
			Version: "merged",
		},
	}

	order := make([]string, 0)
	byKey := make(map[string]OsSignature)
	for _, db := range dbs {
		if db == nil {
			continue
		}
		for _, sig := range db.Signatures {
			key := sig.Key()
			if _, exists := byKey[key]; !exists {
				order = append(order, key)
			}
			byKey[key] = sig
		}
	}

	for _, key := range order {
		merged.Signatures = append(merged.Signatures, byKey[key])
	}
	merged.Metadata.SignatureCount = len(merged.Signatures)
	return merged
}
