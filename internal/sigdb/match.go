package sigdb

import (
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"

	"github.com/anstrom/osprey/internal/osfp"
	"github.com/anstrom/osprey/internal/packet"
)

// Category weights for the combined score (§4.G combined score).
const (
	weightTCP      = 0.35
	weightICMP     = 0.25
	weightUDP      = 0.15
	weightProtocol = 0.15
	weightClock    = 0.10
)

const closestMatchCount = 5

// DefaultThreshold is the minimum total score a signature must reach to
// appear in MatchResult.MatchScores (§4.G, "default 0.5").
const DefaultThreshold = 0.5

// ScoreBreakdown holds the per-category sub-score, nil when that
// category had no data on either side to compare.
type ScoreBreakdown struct {
	TCP      *float64
	ICMP     *float64
	UDP      *float64
	Protocol *float64
	Clock    *float64
}

// FuzzyScore is one signature's scored match against a fingerprint.
type FuzzyScore struct {
	OSName              string
	OSVersion           string
	OSFamily            string
	TotalScore          float64
	RawScore            float64
	ConfidenceWeight    float64
	ConfidenceLabel     string
	ScoreBreakdown      ScoreBreakdown
	MatchedFeatures     []string
	MismatchedFeatures  []string
}

// ConfidenceDistribution buckets match_scores by confidence label
// (§4.G output).
type ConfidenceDistribution struct {
	Certain int
	High    int
	Medium  int
	Low     int
}

// FeatureCoverage records which sub-vectors the scored fingerprint
// actually populated.
type FeatureCoverage struct {
	HasTCP          bool
	HasICMP         bool
	HasUDP          bool
	HasProtocolHints bool
	HasClockSkew    bool
	HasPassive      bool
	HasActiveProbes bool
	TotalTechniques int
}

// MatchResult is the full output of matching one fingerprint against a
// database (§4.G output).
type MatchResult struct {
	Target                  net.IP
	TotalSignaturesChecked  int
	MatchesFound            int
	BestMatch               *FuzzyScore
	ClosestMatches          []FuzzyScore
	MatchScores             []FuzzyScore
	ConfidenceDistribution  ConfidenceDistribution
	FeatureCoverage         FeatureCoverage
}

// ConfidenceLabel maps a total score to §4.G's confidence labels.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.90:
		return "Certain"
	case score >= 0.75:
		return "High"
	case score >= 0.50:
		return "Medium"
	default:
		return "Low"
	}
}

// Match scores fp against every signature in db, keeping those at or
// above threshold (§4.G match). A threshold of 0 uses DefaultThreshold.
func Match(fp *osfp.Fingerprint, db *Database, threshold float64) MatchResult {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	result := MatchResult{
		Target:                 fp.Target,
		TotalSignaturesChecked: len(db.Signatures),
		FeatureCoverage:        featureCoverage(fp),
	}

	var scores []FuzzyScore
	for _, sig := range db.Signatures {
		score := scoreSignature(fp, sig)
		if score.TotalScore >= threshold {
			scores = append(scores, score)
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].TotalScore > scores[j].TotalScore })

	result.MatchesFound = len(scores)
	result.MatchScores = scores
	if len(scores) > 0 {
		best := scores[0]
		result.BestMatch = &best
	}
	if n := len(scores); n > closestMatchCount {
		result.ClosestMatches = append([]FuzzyScore{}, scores[:closestMatchCount]...)
	} else {
		result.ClosestMatches = append([]FuzzyScore{}, scores...)
	}
	result.ConfidenceDistribution = confidenceDistribution(scores)

	return result
}

func confidenceDistribution(scores []FuzzyScore) ConfidenceDistribution {
	var dist ConfidenceDistribution
	for _, s := range scores {
		switch ConfidenceLabel(s.TotalScore) {
		case "Certain":
			dist.Certain++
		case "High":
			dist.High++
		case "Medium":
			dist.Medium++
		default:
			dist.Low++
		}
	}
	return dist
}

func featureCoverage(fp *osfp.Fingerprint) FeatureCoverage {
	fc := FeatureCoverage{
		HasTCP:           fp.TCPFeatures != nil,
		HasICMP:          fp.ICMPFeatures != nil,
		HasUDP:           fp.UDPFeatures != nil,
		HasProtocolHints: fp.ProtocolHints != nil,
		HasClockSkew:     fp.ClockSkew != nil,
		HasPassive:       fp.Passive != nil,
		HasActiveProbes:  fp.ActiveProbes != nil,
	}
	for _, present := range []bool{
		fc.HasTCP, fc.HasICMP, fc.HasUDP, fc.HasProtocolHints,
		fc.HasClockSkew, fc.HasPassive, fc.HasActiveProbes,
	} {
		if present {
			fc.TotalTechniques++
		}
	}
	return fc
}

// scoreSignature computes one signature's fuzzy score against fp,
// combining populated category sub-scores with renormalized weights
// (§4.G combined score).
func scoreSignature(fp *osfp.Fingerprint, sig OsSignature) FuzzyScore {
	// Widen the float32 weight through its shortest decimal form, so a
	// weight written as 0.9 scores as 0.9 rather than 0.89999997.
	weight, _ := strconv.ParseFloat(strconv.FormatFloat(float64(sig.ConfidenceWeight), 'g', -1, 32), 64)
	score := FuzzyScore{
		OSName:           sig.OSName,
		OSVersion:        sig.OSVersion,
		OSFamily:         sig.OSFamily,
		ConfidenceWeight: weight,
	}

	var weighted, totalWeight float64
	var matched, mismatched []string

	if fp.TCPFeatures != nil && sig.TCPSignature != nil {
		s := matchTCP(fp.TCPFeatures, sig.TCPSignature, &matched, &mismatched)
		score.ScoreBreakdown.TCP = &s
		weighted += s * weightTCP
		totalWeight += weightTCP
	}
	if fp.ICMPFeatures != nil && sig.ICMPSignature != nil {
		s := matchICMP(fp.ICMPFeatures, sig.ICMPSignature, &matched, &mismatched)
		score.ScoreBreakdown.ICMP = &s
		weighted += s * weightICMP
		totalWeight += weightICMP
	}
	if fp.UDPFeatures != nil && sig.UDPSignature != nil {
		s := matchUDP(fp.UDPFeatures, sig.UDPSignature, &matched, &mismatched)
		score.ScoreBreakdown.UDP = &s
		weighted += s * weightUDP
		totalWeight += weightUDP
	}
	if fp.ProtocolHints != nil && sig.ProtocolHints != nil {
		s := matchProtocolHints(fp.ProtocolHints, sig.ProtocolHints, &matched)
		score.ScoreBreakdown.Protocol = &s
		weighted += s * weightProtocol
		totalWeight += weightProtocol
	}
	if fp.ClockSkew != nil && sig.ClockSkewClass != "" {
		s := matchClockSkew(fp.ClockSkew.ClockFrequencyHz, sig.ClockSkewClass)
		score.ScoreBreakdown.Clock = &s
		weighted += s * weightClock
		totalWeight += weightClock
	}

	raw := 0.0
	if totalWeight > 0 {
		raw = weighted / totalWeight
	}
	score.RawScore = raw
	score.TotalScore = raw * weight
	score.ConfidenceLabel = ConfidenceLabel(score.TotalScore)
	score.MatchedFeatures = matched
	score.MismatchedFeatures = mismatched
	return score
}

func formatRange(lo, hi uint32) string {
	if lo == hi {
		return fmt.Sprintf("%d", lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// matchTCP scores the TCP sub-vector, mirroring §4.G's tolerance table:
// TTL and window size give partial credit near the signature's range,
// MSS and DF flag are closer to exact, and option order is scored by
// longest-common-subsequence ratio.
func matchTCP(fp *osfp.TCPFeatures, sig *TCPSignature, matched, mismatched *[]string) float64 {
	var score float64
	var checks int

	checks++
	lo, hi := uint32(sig.TTLRange[0]), uint32(sig.TTLRange[1])
	ttl := uint32(fp.InitialTTL)
	switch {
	case ttl >= lo && ttl <= hi:
		score += 1.0
		*matched = append(*matched, fmt.Sprintf("TTL: %d (expected %s)", ttl, formatRange(lo, hi)))
	case ttlDistance(ttl, lo, hi) <= 10:
		score += 0.5
		*matched = append(*matched, fmt.Sprintf("TTL: %d (expected ~%s)", ttl, formatRange(lo, hi)))
	default:
		*mismatched = append(*mismatched, fmt.Sprintf("TTL: %d (expected %s)", ttl, formatRange(lo, hi)))
	}

	checks++
	wLo, wHi := sig.WindowSizeRange[0], sig.WindowSizeRange[1]
	win := uint32(fp.WindowSize)
	mid := (wLo + wHi) / 2
	tolerance := uint32(float64(mid) * 0.2)
	switch {
	case win >= wLo && win <= wHi:
		score += 1.0
		*matched = append(*matched, fmt.Sprintf("window size: %d (expected %s)", win, formatRange(wLo, wHi)))
	case withinUint32(win, mid, tolerance):
		score += 0.6
		*matched = append(*matched, fmt.Sprintf("window size: %d (within tolerance of %s)", win, formatRange(wLo, wHi)))
	default:
		*mismatched = append(*mismatched, fmt.Sprintf("window size: %d (expected %s)", win, formatRange(wLo, wHi)))
	}

	if sig.TypicalMSS != nil && fp.MSS != 0 {
		checks++
		diff := int(fp.MSS) - int(*sig.TypicalMSS)
		if diff < 0 {
			diff = -diff
		}
		if diff <= 100 {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("MSS: %d (expected ≈%d)", fp.MSS, *sig.TypicalMSS))
		} else {
			*mismatched = append(*mismatched, fmt.Sprintf("MSS: %d (expected ≈%d)", fp.MSS, *sig.TypicalMSS))
		}
	}

	if sig.DFFlag != nil {
		checks++
		if fp.DFFlag == *sig.DFFlag {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("DF flag: %v (expected %v)", fp.DFFlag, *sig.DFFlag))
		} else {
			*mismatched = append(*mismatched, fmt.Sprintf("DF flag: %v (expected %v)", fp.DFFlag, *sig.DFFlag))
		}
	}

	if sig.ECNSupport != nil {
		checks++
		if fp.ECNSupport == *sig.ECNSupport {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("ECN support: %v (expected %v)", fp.ECNSupport, *sig.ECNSupport))
		} else {
			*mismatched = append(*mismatched, fmt.Sprintf("ECN support: %v (expected %v)", fp.ECNSupport, *sig.ECNSupport))
		}
	}

	if len(sig.TCPOptions) > 0 && len(fp.OptionOrder) > 0 {
		checks++
		ratio := lcsRatio(optionNames(fp.OptionOrder), sig.TCPOptions)
		score += ratio
		if ratio == 1.0 {
			*matched = append(*matched, "TCP option order: exact match")
		} else if ratio > 0 {
			*matched = append(*matched, fmt.Sprintf("TCP option order: %.0f%% match", ratio*100))
		} else {
			*mismatched = append(*mismatched, "TCP option order: no match")
		}
	}

	if checks == 0 {
		return 0
	}
	return score / float64(checks)
}

func ttlDistance(ttl, lo, hi uint32) uint32 {
	if ttl < lo {
		return lo - ttl
	}
	if ttl > hi {
		return ttl - hi
	}
	return 0
}

func withinUint32(v, center, tolerance uint32) bool {
	lo := int64(center) - int64(tolerance)
	hi := int64(center) + int64(tolerance)
	return int64(v) >= lo && int64(v) <= hi
}

var optionKindNames = map[packet.TCPOptionKind]string{
	packet.OptEndOfList:     "eol",
	packet.OptNOP:           "nop",
	packet.OptMSS:           "mss",
	packet.OptWindowScale:   "window_scale",
	packet.OptSACKPermitted: "sack_permitted",
	packet.OptTimestamp:     "timestamp",
}

func optionNames(kinds []packet.TCPOptionKind) []string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if name, ok := optionKindNames[k]; ok {
			names = append(names, name)
		} else {
			names = append(names, "unknown")
		}
	}
	return names
}

// lcsRatio returns the longest-common-subsequence length between a and b
// divided by the longer sequence's length, so identical order scores 1.0
// and disjoint orders score 0.0 (§4.G "TCP option order").
func lcsRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] >= table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(table[len(a)][len(b)]) / float64(longest)
}

func matchICMP(fp *osfp.ICMPFeatures, sig *ICMPSignature, matched, mismatched *[]string) float64 {
	var score float64
	var checks int

	checks++
	lo, hi := uint32(sig.TTLRange[0]), uint32(sig.TTLRange[1])
	ttl := uint32(fp.EchoReplyTTL)
	switch {
	case ttl >= lo && ttl <= hi:
		score += 1.0
		*matched = append(*matched, fmt.Sprintf("ICMP TTL: %d (expected %s)", ttl, formatRange(lo, hi)))
	case ttlDistance(ttl, lo, hi) <= 10:
		score += 0.5
		*matched = append(*matched, fmt.Sprintf("ICMP TTL: %d (expected ~%s)", ttl, formatRange(lo, hi)))
	default:
		*mismatched = append(*mismatched, fmt.Sprintf("ICMP TTL: %d (expected %s)", ttl, formatRange(lo, hi)))
	}

	if sig.EchoesPayload != nil {
		checks++
		if fp.PayloadEchoed == *sig.EchoesPayload {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("echoes payload: %v (expected %v)", fp.PayloadEchoed, *sig.EchoesPayload))
		} else {
			*mismatched = append(*mismatched, fmt.Sprintf("echoes payload: %v (expected %v)", fp.PayloadEchoed, *sig.EchoesPayload))
		}
	}

	if sig.RateLimitPattern != "" {
		checks++
		if string(fp.RateLimit) == sig.RateLimitPattern {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("ICMP rate limit: %s (expected %s)", fp.RateLimit, sig.RateLimitPattern))
		} else {
			*mismatched = append(*mismatched, fmt.Sprintf("ICMP rate limit: %s (expected %s)", fp.RateLimit, sig.RateLimitPattern))
		}
	}

	if checks == 0 {
		return 0.5
	}
	return score / float64(checks)
}

func matchUDP(fp *osfp.UDPFeatures, sig *UDPSignature, matched, mismatched *[]string) float64 {
	if sig.ResponsePattern == "" {
		return 0.5
	}
	if string(fp.BurstPattern) == sig.ResponsePattern {
		*matched = append(*matched, fmt.Sprintf("UDP response pattern: %s (expected %s)", fp.BurstPattern, sig.ResponsePattern))
		return 1.0
	}
	*mismatched = append(*mismatched, fmt.Sprintf("UDP response pattern: %s (expected %s)", fp.BurstPattern, sig.ResponsePattern))
	return 0.0
}

func matchProtocolHints(fp *osfp.ProtocolHints, sig *ProtocolHintSignature, matched *[]string) float64 {
	var score float64
	var checks int

	if fp.SSH != nil {
		checks++
		if overlaps(fp.SSH.OSHints, sig.SSHOSHints) {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("SSH hints: %v", fp.SSH.OSHints))
		}
	}
	if fp.HTTP != nil {
		checks++
		if overlaps(fp.HTTP.OSHints, sig.HTTPOSHints) {
			score += 1.0
			*matched = append(*matched, fmt.Sprintf("HTTP hints: %v", fp.HTTP.OSHints))
		}
	}

	if checks == 0 {
		return 0.5
	}
	return score / float64(checks)
}

func overlaps(a, b []string) bool {
	if len(b) == 0 {
		return len(a) > 0
	}
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	for _, v := range a {
		if set[v] {
			return true
		}
	}
	return false
}

// matchClockSkew scores the observed clock frequency against the
// signature's expected class, giving full credit within 5% and partial
// credit within 20% (§4.G clock-skew sub-score).
func matchClockSkew(freqHz float64, class ClockSkewClass) float64 {
	expected := class.Frequency()
	if expected == 0 || freqHz == 0 {
		return 0
	}
	deviation := math.Abs(freqHz-expected) / expected
	switch {
	case deviation <= 0.05:
		return 1.0
	case deviation <= 0.20:
		return 0.5
	default:
		return 0.0
	}
}
