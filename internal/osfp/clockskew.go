package osfp

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/anstrom/osprey/internal/errors"
	"github.com/anstrom/osprey/internal/packet"
)

var (
	errNoRawTCPSocket    = fmt.Errorf("raw TCP socket unavailable")
	errNoTimestampReply  = fmt.Errorf("no reply to timestamp probe")
	errNoTimestampOption = fmt.Errorf("reply carried no timestamp option")
)

// TimestampMeasurement is one TCP-timestamp-option sample pairing the
// remote counter value to the local clock reading at receipt.
type TimestampMeasurement struct {
	RemoteTimestamp uint32
	LocalTimeUs     int64
	Sequence        int
}

// ClockSkewAnalysis is the clock-skew sub-vector (§4.F Clock skew),
// estimated by ordinary-least-squares regression over TCP timestamp
// samples: t_r = m*t_l + b.
type ClockSkewAnalysis struct {
	Measurements     []TimestampMeasurement
	SkewPPM          float64
	ClockFrequencyHz float64
	SkewStdDev       float64
	OSHints          []string
	Confidence       float64
}

func (c *Collector) collectClockSkew(ctx context.Context, target net.IP, port uint16) (*ClockSkewAnalysis, error) {
	measurements, err := c.collectTimestamps(ctx, target, port)
	if err != nil {
		return nil, err
	}
	if len(measurements) < c.cfg.ClockSkewMinSamples {
		return nil, errors.ErrInsufficientData(c.cfg.ClockSkewMinSamples, len(measurements))
	}

	skewPPM, freqHz, stdDev := estimateSkew(measurements)
	return &ClockSkewAnalysis{
		Measurements:     measurements,
		SkewPPM:          skewPPM,
		ClockFrequencyHz: freqHz,
		SkewStdDev:       stdDev,
		OSHints:          classifyClockBehavior(skewPPM, freqHz, stdDev),
		Confidence:       clockSkewConfidence(stdDev, len(measurements)),
	}, nil
}

// collectTimestamps sends ClockSkewSamples TCP ACK probes carrying a
// timestamp option and records the peer's echoed timestamp against local
// receive time, stopping early if ClockSkewWindow elapses.
func (c *Collector) collectTimestamps(ctx context.Context, target net.IP, port uint16) ([]TimestampMeasurement, error) {
	c.mu.Lock()
	sock := c.tcpSocket
	c.mu.Unlock()
	if sock == nil {
		return nil, errNoRawTCPSocket
	}

	src, err := localIPFor(target)
	if err != nil {
		return nil, err
	}

	var measurements []TimestampMeasurement
	start := time.Now()

	for i := 0; i < c.cfg.ClockSkewSamples; i++ {
		if time.Since(start) > c.cfg.ClockSkewWindow {
			break
		}
		select {
		case <-ctx.Done():
			return measurements, ctx.Err()
		default:
		}

		m, err := c.probeTimestampSample(ctx, sock, src, target, port, i)
		if err == nil {
			measurements = append(measurements, m)
		}

		time.Sleep(100 * time.Millisecond)
	}

	return measurements, nil
}

func (c *Collector) probeTimestampSample(
	ctx context.Context, sock packet.RawSocket, src, dst net.IP, port uint16, seq int,
) (TimestampMeasurement, error) {
	srcPort := uint16(20000 + (time.Now().UnixNano() % 10000))
	tsval := uint32(time.Now().UnixNano() / 1000)
	options := []packet.TCPOption{packet.Timestamp(tsval, 0)}
	segment, err := packet.BuildTCP(src, dst, srcPort, port, uint32(time.Now().UnixNano()), 0, packet.FlagACK, 1024, options, nil)
	if err != nil {
		return TimestampMeasurement{}, err
	}
	ipPacket, err := packet.BuildIPv4(src, dst, packet.ProtoTCP, 64, srcPort, segment)
	if err != nil {
		return TimestampMeasurement{}, err
	}
	if err := sock.Send(dst.String(), ipPacket); err != nil {
		return TimestampMeasurement{}, err
	}

	deadline := time.Now().Add(c.cfg.TCPTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return TimestampMeasurement{}, errNoTimestampReply
		}
		data, timedOut, err := sock.Recv(remaining)
		if err != nil || timedOut {
			return TimestampMeasurement{}, errNoTimestampReply
		}
		ipReply, perr := packet.ParseIPv4(data)
		if perr != nil || !ipReply.SrcIP.Equal(dst) || ipReply.PayloadKind != packet.PayloadTCP {
			continue
		}
		seg := ipReply.TCP
		if seg.DstPort != srcPort {
			continue
		}
		recvTime := time.Now()
		for _, opt := range seg.Options {
			if opt.Kind == packet.OptTimestamp && len(opt.Bytes) >= 4 {
				remoteTS := uint32(opt.Bytes[0])<<24 | uint32(opt.Bytes[1])<<16 | uint32(opt.Bytes[2])<<8 | uint32(opt.Bytes[3])
				return TimestampMeasurement{
					RemoteTimestamp: remoteTS,
					LocalTimeUs:     recvTime.UnixMicro(),
					Sequence:        seq,
				}, nil
			}
		}
		return TimestampMeasurement{}, errNoTimestampOption
	}
}

// estimateSkew fits t_r = m*t_l + b by ordinary least squares and derives
// skew_ppm = (m-1)*1e6 and clock_frequency_hz = m*1e6, matching the
// original's microsecond-timestamp convention.
func estimateSkew(measurements []TimestampMeasurement) (skewPPM, clockFrequencyHz, stdDev float64) {
	n := float64(len(measurements))
	var sumX, sumY, sumXY, sumXX float64
	for _, m := range measurements {
		x := float64(m.LocalTimeUs)
		y := float64(m.RemoteTimestamp)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	intercept := (sumY - slope*sumX) / n

	var sumResidual, sumSquaredDev float64
	residuals := make([]float64, len(measurements))
	for i, m := range measurements {
		predicted := slope*float64(m.LocalTimeUs) + intercept
		residuals[i] = float64(m.RemoteTimestamp) - predicted
		sumResidual += residuals[i]
	}
	meanResidual := sumResidual / n
	for _, r := range residuals {
		sumSquaredDev += (r - meanResidual) * (r - meanResidual)
	}
	stdDev = math.Sqrt(sumSquaredDev / n)

	skewPPM = (slope - 1.0) * 1_000_000.0
	clockFrequencyHz = slope * 1_000_000.0
	return skewPPM, clockFrequencyHz, stdDev
}

// classifyClockBehavior maps skew magnitude, clock frequency, and jitter
// to coarse OS hints, grounded on the original's classify_os_by_clock
// thresholds (common kernel tick rates).
func classifyClockBehavior(skewPPM, clockFrequencyHz, stdDev float64) []string {
	var hints []string

	switch {
	case math.Abs(clockFrequencyHz-1000.0) < 50.0:
		hints = append(hints, "Linux (HZ=1000) or macOS")
	case math.Abs(clockFrequencyHz-250.0) < 25.0:
		hints = append(hints, "Linux (HZ=250)")
	case math.Abs(clockFrequencyHz-100.0) < 10.0:
		hints = append(hints, "Linux (HZ=100), Windows, or BSD")
	case math.Abs(clockFrequencyHz-64.0) < 5.0:
		hints = append(hints, "Windows (legacy timer)")
	}

	switch {
	case stdDev < 100.0:
		hints = append(hints, "stable clock (server-grade hardware)")
	case stdDev > 1000.0:
		hints = append(hints, "unstable clock (virtualized or embedded system)")
	}

	switch {
	case math.Abs(skewPPM) < 10.0:
		hints = append(hints, "well-synchronized clock (NTP enabled)")
	case math.Abs(skewPPM) > 100.0:
		hints = append(hints, "poorly synchronized clock")
	}

	return hints
}

// clockSkewConfidence combines sample stability and sample count into a
// 0-1 confidence score: 0.7 weight on low jitter, 0.3 weight on reaching
// 30 samples.
func clockSkewConfidence(stdDev float64, sampleCount int) float64 {
	stdDevFactor := 1.0 / (1.0 + stdDev/100.0)
	sampleFactor := math.Min(float64(sampleCount)/30.0, 1.0)
	confidence := stdDevFactor*0.7 + sampleFactor*0.3
	return math.Min(math.Max(confidence, 0.0), 1.0)
}
