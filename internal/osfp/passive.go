package osfp

import (
	"sync"

	"github.com/anstrom/osprey/internal/packet"
)

const passiveMinObservations = 5

// PassiveFeatures accumulates most-common-value statistics from
// externally fed packets (§4.F Passive features, §6 external capture
// source), the TTL/MSS/window profile the Rust original's
// analyze_ttl_mss builds from a capture.
type PassiveFeatures struct {
	PacketsObserved int
	InitialTTL      uint8
	MSS             uint16
	WindowSize      uint16
	DFFlagSet       bool

	mu         sync.Mutex
	ttlCounts  map[uint8]int
	mssCounts  map[uint16]int
	winCounts  map[uint16]int
	dfTrue     int
	dfFalse    int
}

func newPassiveFeatures() *PassiveFeatures {
	return &PassiveFeatures{
		ttlCounts: make(map[uint8]int),
		mssCounts: make(map[uint16]int),
		winCounts: make(map[uint16]int),
	}
}

// observe folds one externally captured IPv4 packet into the running
// tallies. Only TCP packets carry the option set this sub-vector cares
// about; others are ignored.
func (p *PassiveFeatures) observe(ip *packet.Ipv4Packet) {
	if ip == nil || ip.PayloadKind != packet.PayloadTCP || ip.TCP == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.PacketsObserved++
	p.ttlCounts[ip.TTL]++
	p.winCounts[ip.TCP.Window]++
	if ip.Flags&0x02 != 0 {
		p.dfTrue++
	} else {
		p.dfFalse++
	}
	for _, opt := range ip.TCP.Options {
		if opt.Kind == packet.OptMSS && len(opt.Bytes) == 2 {
			mss := uint16(opt.Bytes[0])<<8 | uint16(opt.Bytes[1])
			p.mssCounts[mss]++
		}
	}
}

func (p *PassiveFeatures) hasObservations() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PacketsObserved >= passiveMinObservations
}

// snapshot resolves the most-common value in each tally into a
// point-in-time profile.
func (p *PassiveFeatures) snapshot() *PassiveFeatures {
	p.mu.Lock()
	defer p.mu.Unlock()

	return &PassiveFeatures{
		PacketsObserved: p.PacketsObserved,
		InitialTTL:      mostCommonUint8(p.ttlCounts),
		MSS:             mostCommonUint16(p.mssCounts),
		WindowSize:      mostCommonUint16(p.winCounts),
		DFFlagSet:       p.dfTrue >= p.dfFalse,
	}
}

func mostCommonUint8(counts map[uint8]int) uint8 {
	var best uint8
	bestCount := -1
	for v, n := range counts {
		if n > bestCount {
			best, bestCount = v, n
		}
	}
	return best
}

func mostCommonUint16(counts map[uint16]int) uint16 {
	var best uint16
	bestCount := -1
	for v, n := range counts {
		if n > bestCount {
			best, bestCount = v, n
		}
	}
	return best
}
