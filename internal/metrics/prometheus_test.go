package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_InitializationAndUpdate(t *testing.T) {
	pm := NewPrometheusMetrics()
	require.NotNil(t, pm)
	require.NotNil(t, pm.GetRegistry())

	pm.UpdateSystemMetrics()
	before := pm.GetUptime()
	time.Sleep(10 * time.Millisecond)
	after := pm.GetUptime()
	assert.Greater(t, after, before)
}

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	handler := promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{})
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.NotEmpty(t, body)
	assert.Contains(t, body, "osprey_system_uptime_seconds")
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementScansTotal("tcp_syn", "success")
	pm.IncrementScansTotal("tcp_syn", "success")
	pm.IncrementScansTotal("tcp_connect", "error")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scansTotal))

	pm.RecordScanDuration("tcp_syn", 5*time.Second)
	pm.RecordScanDuration("tcp_syn", 3*time.Second)
	pm.RecordScanDuration("tcp_connect", 2*time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanDuration))

	pm.IncrementScanErrors("tcp_syn", "TIMEOUT")
	pm.IncrementScanErrors("tcp_syn", "NETWORK_UNREACHABLE")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanErrors))

	pm.IncrementPortsScanned("tcp_syn", "open", 10)
	pm.IncrementPortsScanned("tcp_syn", "open", 5)
	pm.IncrementPortsScanned("tcp_syn", "closed", 100)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.portsScanned))

	pm.IncrementHostsScanned("up", 3)
	pm.IncrementHostsScanned("down", 10)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.hostsScanned))

	pm.SetActiveScans(5)
	pm.SetActiveScans(3)

	assert.Equal(t, 1, testutil.CollectAndCount(pm.activeScans))
}

func TestPrometheusMetrics_DiscoveryMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementDiscoveryTotal("icmp_echo", "success")
	pm.IncrementDiscoveryTotal("icmp_echo", "success")
	pm.IncrementDiscoveryTotal("arp", "error")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.discoveryTotal))

	pm.RecordDiscoveryDuration("icmp_echo", 1*time.Second)
	pm.RecordDiscoveryDuration("arp", 500*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.discoveryDuration))

	pm.IncrementDiscoveryErrors("icmp_echo", "TIMEOUT")
	pm.IncrementDiscoveryErrors("arp", "PERMISSION")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.discoveryErrors))

	pm.IncrementHostsDiscovered("icmp_echo", 10)
	pm.IncrementHostsDiscovered("arp", 5)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.hostsDiscovered))

	pm.SetActiveDiscovery(2)
	pm.SetActiveDiscovery(0)

	assert.Equal(t, 1, testutil.CollectAndCount(pm.activeDiscovery))
}

func TestPrometheusMetrics_ThrottleMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.SetThrottlePPS(1000)
	pm.SetThrottlePPS(1500)
	assert.Equal(t, 1, testutil.CollectAndCount(pm.throttlePPS))

	pm.IncrementThrottleAdjustment("increase")
	pm.IncrementThrottleAdjustment("decrease")
	assert.Equal(t, 2, testutil.CollectAndCount(pm.throttleAdjustments))

	pm.IncrementThrottleProbe("success")
	pm.IncrementThrottleProbe("failure")
	assert.Equal(t, 2, testutil.CollectAndCount(pm.throttleProbes))
}

func TestPrometheusMetrics_FingerprintMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementFingerprintMatch("Certain")
	pm.IncrementFingerprintMatch("High")
	assert.Equal(t, 2, testutil.CollectAndCount(pm.fingerprintMatches))

	pm.RecordFingerprintConfidence("tcp", 0.9)
	pm.RecordFingerprintConfidence("icmp", 0.6)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.fingerprintConfidence))

	pm.RecordFingerprintDuration("clock_skew", 2*time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(pm.fingerprintDuration))
}

func TestPrometheusMetrics_APIMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementHTTPRequests("GET", "/api/scans", "200")
	pm.IncrementHTTPRequests("POST", "/api/scans", "201")
	pm.IncrementHTTPRequests("GET", "/api/scans", "200")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.httpRequests))

	pm.RecordHTTPDuration("GET", "/api/scans", 100*time.Millisecond)
	pm.RecordHTTPDuration("POST", "/api/scans", 200*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.httpDuration))

	pm.IncrementHTTPErrors("GET", "/api/scans", "timeout")
	pm.IncrementHTTPErrors("POST", "/api/scans", "validation_error")

	assert.Equal(t, 2, testutil.CollectAndCount(pm.httpErrors))
}

func TestPrometheusMetrics_SystemMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.UpdateSystemMetrics()

	assert.Equal(t, 1, testutil.CollectAndCount(pm.memoryUsage))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.goroutines))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.uptime))

	pm.SetCPUUsage(45.5)
	pm.SetCPUUsage(50.0)

	assert.Equal(t, 1, testutil.CollectAndCount(pm.cpuUsage))

	before := pm.GetLastUpdate()
	time.Sleep(10 * time.Millisecond)
	pm.UpdateSystemMetrics()
	after := pm.GetLastUpdate()

	assert.True(t, after.After(before))
}

func TestPrometheusMetrics_StartPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 20*time.Millisecond)
		close(done)
	}()

	<-ctx.Done()
	<-done

	assert.Equal(t, 1, testutil.CollectAndCount(pm.uptime))
}

func TestPrometheusMetrics_GlobalInstance(t *testing.T) {
	gm1 := GetGlobalMetrics()
	require.NotNil(t, gm1)

	gm2 := GetGlobalMetrics()
	assert.Same(t, gm1, gm2)
}

func TestPrometheusMetrics_GlobalConvenienceFunctions(t *testing.T) {
	gm := GetGlobalMetrics()

	RecordScanDurationPrometheus("tcp_syn", 5*time.Second)
	assert.NotZero(t, testutil.CollectAndCount(gm.scanDuration))

	IncrementScanTotalPrometheus("tcp_syn", "success")
	assert.NotZero(t, testutil.CollectAndCount(gm.scansTotal))

	IncrementScanErrorsPrometheus("tcp_syn", "TIMEOUT")
	assert.NotZero(t, testutil.CollectAndCount(gm.scanErrors))

	RecordDiscoveryDurationPrometheus("icmp_echo", 1*time.Second)
	assert.NotZero(t, testutil.CollectAndCount(gm.discoveryDuration))

	IncrementHostsDiscoveredPrometheus("icmp_echo", 5)
	assert.NotZero(t, testutil.CollectAndCount(gm.hostsDiscovered))

	SetThrottlePPSPrometheus(2500)
	assert.NotZero(t, testutil.CollectAndCount(gm.throttlePPS))
}
