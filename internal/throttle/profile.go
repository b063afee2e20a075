package throttle

import "time"

// TimingProfile names one of the six canned speed presets a scan can select,
// trading stealth for throughput (§4.B).
type TimingProfile string

const (
	ProfileParanoid   TimingProfile = "paranoid"
	ProfileSneaky     TimingProfile = "sneaky"
	ProfilePolite     TimingProfile = "polite"
	ProfileNormal     TimingProfile = "normal"
	ProfileAggressive TimingProfile = "aggressive"
	ProfileInsane     TimingProfile = "insane"
)

// ProfileParams is the (initial_pps, max_pps, min_pps, per-connection
// timeout) tuple a timing profile resolves to.
type ProfileParams struct {
	InitialPPS        float64
	MaxPPS            float64
	MinPPS            float64
	ConnectionTimeout time.Duration
}

// profiles is the internally-consistent set of timing presets chosen for
// this implementation. The source documents disagree on exact figures
// (§9 Open Questions); these values preserve the intent (each profile
// roughly 5x faster than the one before it) without claiming fidelity to
// any single contradictory source table.
var profiles = map[TimingProfile]ProfileParams{
	ProfileParanoid:   {InitialPPS: 1, MaxPPS: 5, MinPPS: 1, ConnectionTimeout: 5 * time.Minute},
	ProfileSneaky:     {InitialPPS: 5, MaxPPS: 25, MinPPS: 1, ConnectionTimeout: 15 * time.Second},
	ProfilePolite:     {InitialPPS: 25, MaxPPS: 100, MinPPS: 5, ConnectionTimeout: 5 * time.Second},
	ProfileNormal:     {InitialPPS: 100, MaxPPS: 1000, MinPPS: 10, ConnectionTimeout: 1 * time.Second},
	ProfileAggressive: {InitialPPS: 500, MaxPPS: 5000, MinPPS: 50, ConnectionTimeout: 500 * time.Millisecond},
	ProfileInsane:     {InitialPPS: 2000, MaxPPS: 20000, MinPPS: 100, ConnectionTimeout: 250 * time.Millisecond},
}

// Params resolves a TimingProfile to its concrete parameters. Unknown
// profiles resolve to ProfileNormal.
func (p TimingProfile) Params() ProfileParams {
	if params, ok := profiles[p]; ok {
		return params
	}
	return profiles[ProfileNormal]
}

// ConfigForProfile builds a throttle Config seeded from a timing profile,
// keeping the adaptive thresholds at their documented defaults.
func ConfigForProfile(p TimingProfile) Config {
	params := p.Params()
	cfg := DefaultConfig()
	cfg.InitialPPS = params.InitialPPS
	cfg.MaxPPS = params.MaxPPS
	cfg.MinPPS = params.MinPPS
	return cfg
}
