package sigdb

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/osprey/internal/osfp"
	"github.com/anstrom/osprey/internal/packet"
)

func mss1460() *uint16 {
	v := uint16(1460)
	return &v
}

func boolPtr(b bool) *bool { return &b }

func linuxSignature() OsSignature {
	return OsSignature{
		OSName:    "Linux",
		OSVersion: "5.x",
		OSFamily:  "linux",
		TCPSignature: &TCPSignature{
			TTLRange:        [2]uint8{60, 64},
			WindowSizeRange: [2]uint32{5840, 29200},
			TypicalMSS:      mss1460(),
			DFFlag:          boolPtr(true),
			ECNSupport:      boolPtr(true),
			TCPOptions:      []string{"mss", "sack_permitted", "timestamp", "nop", "window_scale"},
		},
		ICMPSignature: &ICMPSignature{
			TTLRange:      [2]uint8{60, 64},
			EchoesPayload: boolPtr(true),
		},
		ClockSkewClass:   ClockSkew250Hz,
		ConfidenceWeight: 0.9,
	}
}

func exactLinuxFingerprint() *osfp.Fingerprint {
	return &osfp.Fingerprint{
		Target: net.ParseIP("192.0.2.1"),
		TCPFeatures: &osfp.TCPFeatures{
			InitialTTL: 64,
			WindowSize: 29200,
			MSS:        1460,
			DFFlag:     true,
			ECNSupport: true,
			OptionOrder: []packet.TCPOptionKind{
				packet.OptMSS, packet.OptSACKPermitted, packet.OptTimestamp,
				packet.OptNOP, packet.OptWindowScale,
			},
		},
		ICMPFeatures: &osfp.ICMPFeatures{
			EchoReplyTTL:  64,
			PayloadEchoed: true,
		},
		ClockSkew: &osfp.ClockSkewAnalysis{ClockFrequencyHz: 250},
	}
}

func TestScoreSignatureExactMatchIsCertain(t *testing.T) {
	score := scoreSignature(exactLinuxFingerprint(), linuxSignature())
	assert.GreaterOrEqual(t, score.TotalScore, 0.9)
	assert.Equal(t, "Certain", score.ConfidenceLabel)
	assert.NotEmpty(t, score.MatchedFeatures)
	assert.Empty(t, score.MismatchedFeatures)
}

func TestScoreSignaturePartialTTLGivesPartialCredit(t *testing.T) {
	fp := exactLinuxFingerprint()
	fp.TCPFeatures.InitialTTL = 50 // 10 below the 60-64 range: partial credit
	sig := linuxSignature()

	score := scoreSignature(fp, sig)
	assert.Less(t, score.TotalScore, 1.0)
	assert.Greater(t, score.TotalScore, 0.0)
}

func TestScoreSignatureFarOffTTLMismatches(t *testing.T) {
	fp := exactLinuxFingerprint()
	fp.TCPFeatures.InitialTTL = 30
	sig := linuxSignature()

	score := scoreSignature(fp, sig)
	found := false
	for _, m := range score.MismatchedFeatures {
		assert.Contains(t, m, "TTL")
		found = true
	}
	assert.True(t, found)
}

func TestScoreSignatureAppliesConfidenceWeight(t *testing.T) {
	sig := linuxSignature()
	sig.ConfidenceWeight = 0.5

	score := scoreSignature(exactLinuxFingerprint(), sig)
	assert.InDelta(t, score.RawScore*0.5, score.TotalScore, 0.0001)
}

func TestMatchFiltersByThresholdAndRanksDescending(t *testing.T) {
	db := &Database{Signatures: []OsSignature{
		linuxSignature(),
		{OSName: "Windows", OSVersion: "10", OSFamily: "windows", ConfidenceWeight: 0.9,
			TCPSignature: &TCPSignature{TTLRange: [2]uint8{120, 128}, WindowSizeRange: [2]uint32{8192, 8192}}},
	}}

	result := Match(exactLinuxFingerprint(), db, 0.5)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, "Linux", result.BestMatch.OSName)
	assert.LessOrEqual(t, len(result.MatchScores), result.TotalSignaturesChecked)
	for i := 1; i < len(result.MatchScores); i++ {
		assert.GreaterOrEqual(t, result.MatchScores[i-1].TotalScore, result.MatchScores[i].TotalScore)
	}
}

func TestMatchUsesDefaultThresholdWhenZero(t *testing.T) {
	db := &Database{Signatures: []OsSignature{linuxSignature()}}
	result := Match(exactLinuxFingerprint(), db, 0)
	assert.NotEmpty(t, result.MatchScores)
}

func TestMatchReportsFeatureCoverage(t *testing.T) {
	db := &Database{Signatures: []OsSignature{linuxSignature()}}
	result := Match(exactLinuxFingerprint(), db, 0.5)
	assert.True(t, result.FeatureCoverage.HasTCP)
	assert.True(t, result.FeatureCoverage.HasICMP)
	assert.False(t, result.FeatureCoverage.HasUDP)
	assert.Equal(t, 3, result.FeatureCoverage.TotalTechniques)
}

func TestMatchClosestMatchesCappedAtFive(t *testing.T) {
	sigs := make([]OsSignature, 0, 8)
	for i := 0; i < 8; i++ {
		sig := linuxSignature()
		sig.OSVersion = string(rune('a' + i))
		sigs = append(sigs, sig)
	}
	db := &Database{Signatures: sigs}

	result := Match(exactLinuxFingerprint(), db, 0.1)
	assert.LessOrEqual(t, len(result.ClosestMatches), closestMatchCount)
}

func TestLCSRatioIdenticalSequencesScoreOne(t *testing.T) {
	seq := []string{"mss", "sack_permitted", "timestamp"}
	assert.Equal(t, 1.0, lcsRatio(seq, seq))
}

func TestLCSRatioDisjointSequencesScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, lcsRatio([]string{"mss"}, []string{"timestamp"}))
}

func TestLCSRatioEmptySequenceScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, lcsRatio(nil, []string{"mss"}))
}

func TestMatchClockSkewWithinFivePercentIsFullCredit(t *testing.T) {
	assert.Equal(t, 1.0, matchClockSkew(255, ClockSkew250Hz))
}

func TestMatchClockSkewWithinTwentyPercentIsPartialCredit(t *testing.T) {
	assert.Equal(t, 0.5, matchClockSkew(290, ClockSkew250Hz))
}

func TestMatchClockSkewFarOffScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, matchClockSkew(1000, ClockSkew100Hz))
}

func TestConfidenceLabelBoundaries(t *testing.T) {
	assert.Equal(t, "Certain", ConfidenceLabel(0.9))
	assert.Equal(t, "High", ConfidenceLabel(0.75))
	assert.Equal(t, "Medium", ConfidenceLabel(0.5))
	assert.Equal(t, "Low", ConfidenceLabel(0.49))
}
