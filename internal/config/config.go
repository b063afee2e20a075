// Package config loads osprey's TOML configuration (§6) via viper, bound
// to the CLI's cobra/pflag flags, with per-section defaults and
// validator-tag based validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/anstrom/osprey/internal/logging"
)

// ScannerConfig is the [scanner] section.
type ScannerConfig struct {
	DefaultTimeoutMS    uint32 `mapstructure:"default_timeout_ms" validate:"gt=0"`
	MaxConcurrentScans  uint32 `mapstructure:"max_concurrent_scans" validate:"gt=0"`
	InitialPPS          uint32 `mapstructure:"initial_pps" validate:"gt=0"`
	MaxPPS              uint32 `mapstructure:"max_pps" validate:"gt=0"`
	MinPPS              uint32 `mapstructure:"min_pps" validate:"gt=0"`
	AdaptiveThrottling  bool   `mapstructure:"adaptive_throttling"`
}

// TechniqueConfig is one of the [scanner.tcp_connect|tcp_syn|udp] sections.
type TechniqueConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	TimeoutMS     uint32 `mapstructure:"timeout_ms" validate:"gt=0"`
	Retries       uint8  `mapstructure:"retries"`
	RetryDelayMS  uint32 `mapstructure:"retry_delay_ms"`
}

// ThrottlingConfig is the [throttling] section.
type ThrottlingConfig struct {
	SuccessThreshold   float32 `mapstructure:"success_threshold" validate:"gt=0,lte=1"`
	FailureThreshold   float32 `mapstructure:"failure_threshold" validate:"gt=0,lte=1"`
	RateIncreaseFactor float32 `mapstructure:"rate_increase_factor" validate:"gt=1"`
	RateDecreaseFactor float32 `mapstructure:"rate_decrease_factor" validate:"gt=0,lt=1"`
}

// DetectionConfig is the [detection] section.
type DetectionConfig struct {
	EnableServiceDetection bool   `mapstructure:"enable_service_detection"`
	BannerTimeoutMS        uint32 `mapstructure:"banner_timeout_ms" validate:"gt=0"`
	MaxBannerSize          uint32 `mapstructure:"max_banner_size" validate:"gt=0,lte=65536"`
}

// OSFingerprintConfig is the [os_fingerprint] section.
type OSFingerprintConfig struct {
	EnableTCP             bool    `mapstructure:"enable_tcp"`
	EnableICMP            bool    `mapstructure:"enable_icmp"`
	EnableUDP             bool    `mapstructure:"enable_udp"`
	EnableProtocol        bool    `mapstructure:"enable_protocol"`
	EnableClockSkew       bool    `mapstructure:"enable_clock_skew"`
	EnablePassive         bool    `mapstructure:"enable_passive"`
	EnableActiveProbes    bool    `mapstructure:"enable_active_probes"`
	ClockSkewSamples      uint32  `mapstructure:"clock_skew_samples" validate:"gte=10,lte=200"`
	ConfidenceThreshold   float32 `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	FuzzyMatchThreshold   float32 `mapstructure:"fuzzy_match_threshold" validate:"gte=0,lte=1"`
	ActiveProbesTimeoutMS uint32  `mapstructure:"active_probes_timeout_ms" validate:"gt=0"`
	SeqProbesCount        uint32  `mapstructure:"seq_probes_count" validate:"gt=0"`
}

// Config is osprey's complete configuration (§6).
type Config struct {
	Scanner       ScannerConfig       `mapstructure:"scanner" validate:"required"`
	TCPConnect    TechniqueConfig     `mapstructure:"tcp_connect"`
	TCPSYN        TechniqueConfig     `mapstructure:"tcp_syn"`
	UDP           TechniqueConfig     `mapstructure:"udp"`
	Throttling    ThrottlingConfig    `mapstructure:"throttling" validate:"required"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	OSFingerprint OSFingerprintConfig `mapstructure:"os_fingerprint"`
	Logging       logging.Config      `mapstructure:"logging"`
}

// Default returns spec.md §6's documented defaults.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			DefaultTimeoutMS:   3000,
			MaxConcurrentScans: 500,
			InitialPPS:         100,
			MaxPPS:             1000,
			MinPPS:             10,
			AdaptiveThrottling: true,
		},
		TCPConnect: TechniqueConfig{Enabled: true, TimeoutMS: 3000, Retries: 1, RetryDelayMS: 200},
		TCPSYN:     TechniqueConfig{Enabled: true, TimeoutMS: 2000, Retries: 2, RetryDelayMS: 200},
		UDP:        TechniqueConfig{Enabled: true, TimeoutMS: 3000, Retries: 2, RetryDelayMS: 500},
		Throttling: ThrottlingConfig{
			SuccessThreshold:   0.95,
			FailureThreshold:   0.5,
			RateIncreaseFactor: 1.5,
			RateDecreaseFactor: 0.5,
		},
		Detection: DetectionConfig{
			EnableServiceDetection: true,
			BannerTimeoutMS:        5000,
			MaxBannerSize:          1024,
		},
		OSFingerprint: OSFingerprintConfig{
			EnableTCP:             true,
			EnableICMP:            true,
			EnableUDP:             true,
			EnableProtocol:        true,
			EnableClockSkew:       true,
			EnablePassive:         false,
			EnableActiveProbes:    false,
			ClockSkewSamples:      20,
			ConfidenceThreshold:   0.5,
			FuzzyMatchThreshold:   0.5,
			ActiveProbesTimeoutMS: 3000,
			SeqProbesCount:        6,
		},
		Logging: logging.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("scanner.default_timeout_ms", def.Scanner.DefaultTimeoutMS)
	v.SetDefault("scanner.max_concurrent_scans", def.Scanner.MaxConcurrentScans)
	v.SetDefault("scanner.initial_pps", def.Scanner.InitialPPS)
	v.SetDefault("scanner.max_pps", def.Scanner.MaxPPS)
	v.SetDefault("scanner.min_pps", def.Scanner.MinPPS)
	v.SetDefault("scanner.adaptive_throttling", def.Scanner.AdaptiveThrottling)

	for _, section := range []string{"tcp_connect", "tcp_syn", "udp"} {
		tc := def.TCPConnect
		switch section {
		case "tcp_syn":
			tc = def.TCPSYN
		case "udp":
			tc = def.UDP
		}
		v.SetDefault("scanner."+section+".enabled", tc.Enabled)
		v.SetDefault("scanner."+section+".timeout_ms", tc.TimeoutMS)
		v.SetDefault("scanner."+section+".retries", tc.Retries)
		v.SetDefault("scanner."+section+".retry_delay_ms", tc.RetryDelayMS)
	}

	v.SetDefault("throttling.success_threshold", def.Throttling.SuccessThreshold)
	v.SetDefault("throttling.failure_threshold", def.Throttling.FailureThreshold)
	v.SetDefault("throttling.rate_increase_factor", def.Throttling.RateIncreaseFactor)
	v.SetDefault("throttling.rate_decrease_factor", def.Throttling.RateDecreaseFactor)

	v.SetDefault("detection.enable_service_detection", def.Detection.EnableServiceDetection)
	v.SetDefault("detection.banner_timeout_ms", def.Detection.BannerTimeoutMS)
	v.SetDefault("detection.max_banner_size", def.Detection.MaxBannerSize)

	v.SetDefault("os_fingerprint.enable_tcp", def.OSFingerprint.EnableTCP)
	v.SetDefault("os_fingerprint.enable_icmp", def.OSFingerprint.EnableICMP)
	v.SetDefault("os_fingerprint.enable_udp", def.OSFingerprint.EnableUDP)
	v.SetDefault("os_fingerprint.enable_protocol", def.OSFingerprint.EnableProtocol)
	v.SetDefault("os_fingerprint.enable_clock_skew", def.OSFingerprint.EnableClockSkew)
	v.SetDefault("os_fingerprint.enable_passive", def.OSFingerprint.EnablePassive)
	v.SetDefault("os_fingerprint.enable_active_probes", def.OSFingerprint.EnableActiveProbes)
	v.SetDefault("os_fingerprint.clock_skew_samples", def.OSFingerprint.ClockSkewSamples)
	v.SetDefault("os_fingerprint.confidence_threshold", def.OSFingerprint.ConfidenceThreshold)
	v.SetDefault("os_fingerprint.fuzzy_match_threshold", def.OSFingerprint.FuzzyMatchThreshold)
	v.SetDefault("os_fingerprint.active_probes_timeout_ms", def.OSFingerprint.ActiveProbesTimeoutMS)
	v.SetDefault("os_fingerprint.seq_probes_count", def.OSFingerprint.SeqProbesCount)

	v.SetDefault("logging.level", string(def.Logging.Level))
	v.SetDefault("logging.format", string(def.Logging.Format))
	v.SetDefault("logging.output", def.Logging.Output)
	v.SetDefault("logging.add_source", def.Logging.AddSource)
}

// Load reads path (TOML) through viper, falling back to Default() when
// path is empty or missing, and reports unrecognized keys (at any depth)
// as warnings rather than failing the load (§6: "unknown keys must be
// reported as warnings, not fatal").
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			warnUnknownKeys(v)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// The technique sections live under [scanner.*], so they are read
	// key by key rather than through the top-level struct tags.
	for _, t := range []struct {
		key string
		dst *TechniqueConfig
	}{
		{"scanner.tcp_connect", &cfg.TCPConnect},
		{"scanner.tcp_syn", &cfg.TCPSYN},
		{"scanner.udp", &cfg.UDP},
	} {
		t.dst.Enabled = v.GetBool(t.key + ".enabled")
		t.dst.TimeoutMS = v.GetUint32(t.key + ".timeout_ms")
		t.dst.Retries = uint8(v.GetUint(t.key + ".retries"))
		t.dst.RetryDelayMS = v.GetUint32(t.key + ".retry_delay_ms")
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// knownConfigKeys lists every dotted key this version of osprey reads,
// mirroring setDefaults exactly. warnUnknownKeys compares against this
// full key set, not just top-level section names, so a typo'd or
// unrecognized key nested inside an otherwise-known section (e.g.
// scanner.bogus_key) is still reported (§6: "unknown keys must be
// reported as warnings, not fatal").
var knownConfigKeys = map[string]bool{
	"scanner.default_timeout_ms":   true,
	"scanner.max_concurrent_scans": true,
	"scanner.initial_pps":          true,
	"scanner.max_pps":              true,
	"scanner.min_pps":              true,
	"scanner.adaptive_throttling":  true,

	"scanner.tcp_connect.enabled":        true,
	"scanner.tcp_connect.timeout_ms":     true,
	"scanner.tcp_connect.retries":        true,
	"scanner.tcp_connect.retry_delay_ms": true,
	"scanner.tcp_syn.enabled":            true,
	"scanner.tcp_syn.timeout_ms":         true,
	"scanner.tcp_syn.retries":            true,
	"scanner.tcp_syn.retry_delay_ms":     true,
	"scanner.udp.enabled":                true,
	"scanner.udp.timeout_ms":             true,
	"scanner.udp.retries":                true,
	"scanner.udp.retry_delay_ms":         true,

	"throttling.success_threshold":    true,
	"throttling.failure_threshold":    true,
	"throttling.rate_increase_factor": true,
	"throttling.rate_decrease_factor": true,

	"detection.enable_service_detection": true,
	"detection.banner_timeout_ms":        true,
	"detection.max_banner_size":          true,

	"os_fingerprint.enable_tcp":               true,
	"os_fingerprint.enable_icmp":              true,
	"os_fingerprint.enable_udp":               true,
	"os_fingerprint.enable_protocol":          true,
	"os_fingerprint.enable_clock_skew":        true,
	"os_fingerprint.enable_passive":           true,
	"os_fingerprint.enable_active_probes":     true,
	"os_fingerprint.clock_skew_samples":       true,
	"os_fingerprint.confidence_threshold":     true,
	"os_fingerprint.fuzzy_match_threshold":    true,
	"os_fingerprint.active_probes_timeout_ms": true,
	"os_fingerprint.seq_probes_count":         true,

	"logging.level":      true,
	"logging.format":     true,
	"logging.output":     true,
	"logging.add_source": true,
}

func warnUnknownKeys(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		if !knownConfigKeys[key] {
			logging.Warn("unrecognized config key, ignoring", "key", key)
		}
	}
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg (§6's bounded numeric
// ranges and required sections).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Scanner.MinPPS > cfg.Scanner.MaxPPS {
		return fmt.Errorf("scanner.min_pps must not exceed scanner.max_pps")
	}
	if cfg.Scanner.InitialPPS < cfg.Scanner.MinPPS || cfg.Scanner.InitialPPS > cfg.Scanner.MaxPPS {
		return fmt.Errorf("scanner.initial_pps must be within [min_pps, max_pps]")
	}
	return nil
}

// Timeout resolves a TechniqueConfig's timeout as a
// time.Duration for consumption by internal/portscan.
func (t TechniqueConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}
