package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeTimeout,
		CodeCancelled,
		CodePermission,
		CodeNetworkUnreachable,
		CodeHostUnreachable,
		CodeTargetInvalid,
		CodeInvalidPacket,
		CodeResourceExhausted,
		CodeScanFailed,
		CodeDiscoveryFailed,
		CodeInsufficientData,
		CodeTargetNotFound,
		CodeMalformedSignature,
		CodeFileNotFound,
		CodeFilePermission,
		CodeDirectoryCreate,
		CodeServiceUnavailable,
		CodeServiceTimeout,
		CodeRateLimited,
	}

	for _, code := range codes {
		assert.NotEmpty(t, string(code))
	}
}

func TestScanError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewScanError(CodeScanFailed, "scan failed")
		assert.Equal(t, CodeScanFailed, err.Code)
		assert.Equal(t, "scan failed", err.Message)
		assert.NotNil(t, err.Context)
	})

	t.Run("error with target", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeHostUnreachable, "host down", "192.168.1.1")
		assert.Equal(t, "192.168.1.1", err.Target)
		assert.Equal(t, "[HOST_UNREACHABLE] host down (target: 192.168.1.1)", err.Error())
	})

	t.Run("error with target and port", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeTimeout, "no response", "10.0.0.5").WithPort(22)
		assert.Equal(t, "[TIMEOUT] no response (target: 10.0.0.5:22)", err.Error())
	})

	t.Run("error without target", func(t *testing.T) {
		err := NewScanError(CodeValidation, "validation failed")
		assert.Equal(t, "[VALIDATION] validation failed", err.Error())
	})

	t.Run("wrapped error", func(t *testing.T) {
		cause := fmt.Errorf("network error")
		err := WrapScanError(CodeNetworkUnreachable, "network issue", cause)
		assert.Equal(t, cause, err.Unwrap())
		assert.Equal(t, cause, err.Cause)
	})

	t.Run("wrapped error with target", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := WrapScanErrorWithTarget(CodeHostUnreachable, "cannot connect", "example.com", cause)
		assert.Equal(t, "example.com", err.Target)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("with context", func(t *testing.T) {
		err := NewScanError(CodeTimeout, "timeout occurred")
		err.WithContext("duration", "30s").WithContext("retries", 3)

		assert.Equal(t, "30s", err.Context["duration"])
		assert.Equal(t, 3, err.Context["retries"])
	})
}

func TestDiscoveryError(t *testing.T) {
	t.Run("basic discovery error", func(t *testing.T) {
		err := NewDiscoveryError(CodeDiscoveryFailed, "discovery failed")
		assert.Equal(t, CodeDiscoveryFailed, err.Code)
		assert.Equal(t, "[DISCOVERY_FAILED] discovery failed", err.Error())
	})

	t.Run("discovery error with network", func(t *testing.T) {
		err := NewDiscoveryError(CodeNetworkUnreachable, "network unreachable")
		err.Network = "192.168.1.0/24"
		assert.Equal(t, "[NETWORK_UNREACHABLE] network unreachable (network: 192.168.1.0/24)", err.Error())
	})

	t.Run("with method", func(t *testing.T) {
		err := NewDiscoveryError(CodeDiscoveryFailed, "no response").WithMethod("icmp_echo")
		assert.Equal(t, "icmp_echo", err.Method)
	})

	t.Run("wrapped discovery error", func(t *testing.T) {
		cause := fmt.Errorf("ping failed")
		err := WrapDiscoveryError(CodeDiscoveryFailed, "ping discovery failed", cause)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestConfigError(t *testing.T) {
	t.Run("basic config error", func(t *testing.T) {
		err := NewConfigError(CodeConfiguration, "config invalid")
		assert.Equal(t, CodeConfiguration, err.Code)
		assert.Equal(t, "[CONFIGURATION] config invalid", err.Error())
	})

	t.Run("config field error", func(t *testing.T) {
		err := NewConfigFieldError(CodeValidation, "invalid port", "scanner.tcp_syn.port", 65536)
		assert.Equal(t, "scanner.tcp_syn.port", err.Field)
		assert.Equal(t, 65536, err.Value)
		assert.Equal(t, "[VALIDATION] invalid port (field: scanner.tcp_syn.port)", err.Error())
	})

	t.Run("wrapped config error", func(t *testing.T) {
		cause := fmt.Errorf("file not found")
		err := WrapConfigError(CodeFileNotFound, "config file missing", cause)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestUtilityFunctions(t *testing.T) {
	t.Run("IsCode", func(t *testing.T) {
		tests := []struct {
			name     string
			err      error
			code     ErrorCode
			expected bool
		}{
			{"scan error matches", NewScanError(CodeTimeout, "timeout"), CodeTimeout, true},
			{"scan error does not match", NewScanError(CodeTimeout, "timeout"), CodeValidation, false},
			{"discovery error matches", NewDiscoveryError(CodeDiscoveryFailed, "discovery failed"), CodeDiscoveryFailed, true},
			{"config error matches", NewConfigError(CodeConfiguration, "config error"), CodeConfiguration, true},
			{"standard error", fmt.Errorf("standard error"), CodeUnknown, false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, IsCode(tt.err, tt.code))
			})
		}
	})

	t.Run("GetCode", func(t *testing.T) {
		tests := []struct {
			name     string
			err      error
			expected ErrorCode
		}{
			{"scan error", NewScanError(CodeTimeout, "timeout"), CodeTimeout},
			{"discovery error", NewDiscoveryError(CodeDiscoveryFailed, "discovery failed"), CodeDiscoveryFailed},
			{"config error", NewConfigError(CodeConfiguration, "config error"), CodeConfiguration},
			{"standard error", fmt.Errorf("standard error"), CodeUnknown},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, GetCode(tt.err))
			})
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			name     string
			err      error
			expected bool
		}{
			{"timeout error", NewScanError(CodeTimeout, "timeout"), true},
			{"network unreachable error", NewScanError(CodeNetworkUnreachable, "network unreachable"), true},
			{"rate limited error", NewScanError(CodeRateLimited, "rate limited"), true},
			{"permission error", NewScanError(CodePermission, "permission denied"), false},
			{"validation error", NewScanError(CodeValidation, "validation failed"), false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, IsRetryable(tt.err))
			})
		}
	})

	t.Run("IsFatal", func(t *testing.T) {
		tests := []struct {
			name     string
			err      error
			expected bool
		}{
			{"permission error", NewScanError(CodePermission, "permission denied"), true},
			{"configuration error", NewConfigError(CodeConfiguration, "config error"), true},
			{"resource exhausted error", NewScanError(CodeResourceExhausted, "out of descriptors"), true},
			{"invalid packet error", NewScanError(CodeInvalidPacket, "bad checksum"), true},
			{"timeout error", NewScanError(CodeTimeout, "timeout"), false},
			{"validation error", NewScanError(CodeValidation, "validation failed"), false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, IsFatal(tt.err))
			})
		}
	})
}

func TestCommonErrorCreationFunctions(t *testing.T) {
	t.Run("ErrInvalidTarget", func(t *testing.T) {
		err := ErrInvalidTarget("invalid-target")
		assert.Equal(t, CodeTargetInvalid, err.Code)
		assert.Equal(t, "invalid-target", err.Target)
	})

	t.Run("ErrScanTimeout", func(t *testing.T) {
		err := ErrScanTimeout("192.168.1.1")
		assert.Equal(t, CodeTimeout, err.Code)
		assert.Equal(t, "192.168.1.1", err.Target)
	})

	t.Run("ErrHostUnreachable", func(t *testing.T) {
		err := ErrHostUnreachable("example.com")
		assert.Equal(t, CodeHostUnreachable, err.Code)
		assert.Equal(t, "example.com", err.Target)
	})

	t.Run("ErrPermissionDenied", func(t *testing.T) {
		cause := fmt.Errorf("operation not permitted")
		err := ErrPermissionDenied("open_raw_socket", cause)
		assert.Equal(t, CodePermission, err.Code)
		assert.Equal(t, "open_raw_socket", err.Operation)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("ErrInvalidPacket", func(t *testing.T) {
		err := ErrInvalidPacket("tcp header shorter than 20 bytes")
		assert.Equal(t, CodeInvalidPacket, err.Code)
	})

	t.Run("ErrResourceExhausted", func(t *testing.T) {
		cause := fmt.Errorf("too many open files")
		err := ErrResourceExhausted("open_raw_socket", cause)
		assert.Equal(t, CodeResourceExhausted, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("ErrInsufficientData", func(t *testing.T) {
		err := ErrInsufficientData(10, 3)
		assert.Equal(t, CodeInsufficientData, err.Code)
		assert.Contains(t, err.Message, "need 10")
		assert.Contains(t, err.Message, "have 3")
	})

	t.Run("ErrTargetNotFound", func(t *testing.T) {
		err := ErrTargetNotFound("10.0.0.9")
		assert.Equal(t, CodeTargetNotFound, err.Code)
		assert.Equal(t, "10.0.0.9", err.Target)
	})

	t.Run("ErrMalformedSignature", func(t *testing.T) {
		cause := fmt.Errorf("missing tcp category")
		err := ErrMalformedSignature("linux-5.x", cause)
		assert.Equal(t, CodeMalformedSignature, err.Code)
		assert.Equal(t, "linux-5.x", err.Operation)
	})

	t.Run("ErrCancelled", func(t *testing.T) {
		err := ErrCancelled("port_scan")
		assert.Equal(t, CodeCancelled, err.Code)
		assert.Equal(t, "port_scan", err.Operation)
	})

	t.Run("ErrDiscoveryFailed", func(t *testing.T) {
		cause := fmt.Errorf("network error")
		err := ErrDiscoveryFailed("192.168.1.0/24", cause)
		assert.Equal(t, CodeDiscoveryFailed, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("ErrConfigInvalid", func(t *testing.T) {
		err := ErrConfigInvalid("port", 65536)
		assert.Equal(t, CodeValidation, err.Code)
		assert.Equal(t, "port", err.Field)
		assert.Equal(t, 65536, err.Value)
	})

	t.Run("ErrConfigMissing", func(t *testing.T) {
		err := ErrConfigMissing("scanner.targets")
		assert.Equal(t, CodeConfiguration, err.Code)
		assert.Equal(t, "scanner.targets", err.Field)
		assert.Nil(t, err.Value)
	})
}

func TestErrorUnwrapping(t *testing.T) {
	t.Run("nested error unwrapping", func(t *testing.T) {
		baseErr := fmt.Errorf("base error")
		wrappedErr := fmt.Errorf("wrapped: %w", baseErr)
		scanErr := WrapScanError(CodeScanFailed, "scan failed", wrappedErr)

		require.Equal(t, wrappedErr, scanErr.Unwrap())
		assert.True(t, errors.Is(scanErr, baseErr))
	})

	t.Run("nil unwrap", func(t *testing.T) {
		err := NewScanError(CodeValidation, "validation error")
		assert.Nil(t, err.Unwrap())
	})
}

func TestErrorChaining(t *testing.T) {
	t.Run("multiple context additions", func(t *testing.T) {
		err := NewScanError(CodeTimeout, "timeout occurred")

		err.WithContext("step", "1").
			WithContext("retry", true).
			WithContext("duration", "30s")

		assert.Equal(t, "1", err.Context["step"])
		assert.Equal(t, true, err.Context["retry"])
		assert.Equal(t, "30s", err.Context["duration"])
	})

	t.Run("overwrite context value", func(t *testing.T) {
		err := NewScanError(CodeValidation, "validation error")
		err.WithContext("key", "value1")
		err.WithContext("key", "value2")

		assert.Equal(t, "value2", err.Context["key"])
	})
}

func TestErrorTypes(t *testing.T) {
	t.Run("scan error implements error interface", func(t *testing.T) {
		var err error = NewScanError(CodeValidation, "test")
		assert.NotEmpty(t, err.Error())
	})

	t.Run("discovery error implements error interface", func(t *testing.T) {
		var err error = NewDiscoveryError(CodeDiscoveryFailed, "test")
		assert.NotEmpty(t, err.Error())
	})

	t.Run("config error implements error interface", func(t *testing.T) {
		var err error = NewConfigError(CodeConfiguration, "test")
		assert.NotEmpty(t, err.Error())
	})
}

func TestNilErrorHandling(t *testing.T) {
	t.Run("IsCode with nil error", func(t *testing.T) {
		assert.False(t, IsCode(nil, CodeTimeout))
	})

	t.Run("GetCode with nil error", func(t *testing.T) {
		assert.Equal(t, CodeUnknown, GetCode(nil))
	})

	t.Run("IsRetryable with nil error", func(t *testing.T) {
		assert.False(t, IsRetryable(nil))
	})

	t.Run("IsFatal with nil error", func(t *testing.T) {
		assert.False(t, IsFatal(nil))
	})
}

func TestErrorFormatting(t *testing.T) {
	t.Run("scan error with all fields", func(t *testing.T) {
		cause := fmt.Errorf("network timeout")
		err := WrapScanErrorWithTarget(CodeTimeout, "operation timed out", "192.168.1.1", cause)
		err.Operation = "port_scan"
		err.WithContext("duration", "30s")

		assert.Equal(t, "[TIMEOUT] operation timed out (target: 192.168.1.1)", err.Error())
	})

	t.Run("discovery error formatting", func(t *testing.T) {
		err := NewDiscoveryError(CodeNetworkUnreachable, "network scan failed")
		err.Network = "10.0.0.0/8"
		err.Method = "ping"

		assert.Equal(t, "[NETWORK_UNREACHABLE] network scan failed (network: 10.0.0.0/8)", err.Error())
	})

	t.Run("config error formatting", func(t *testing.T) {
		err := NewConfigFieldError(CodeValidation, "invalid value", "database.port", 70000)

		assert.Equal(t, "[VALIDATION] invalid value (field: database.port)", err.Error())
	})
}
