package main

import (
	"errors"

	oserrors "github.com/anstrom/osprey/internal/errors"
)

// exitCodeFromError maps a returned error to one of spec.md §6's exit
// codes, falling back to false when err isn't a *ScanError the CLI
// knows how to classify.
func exitCodeFromError(err error) (int, bool) {
	var scanErr *oserrors.ScanError
	if !errors.As(err, &scanErr) {
		return 0, false
	}

	switch scanErr.Code {
	case oserrors.CodeValidation, oserrors.CodeConfiguration:
		return exitUsageOrConfig, true
	case oserrors.CodePermission:
		return exitInsufficientPriv, true
	case oserrors.CodeCancelled:
		return exitCancelled, true
	default:
		return exitRuntime, true
	}
}
