package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// === Connector Metrics Tests ===

func TestConnectorEventsProcessed_Labels(t *testing.T) {
	results := []string{"delivered", "dropped", "failed"}

	for _, result := range results {
		ConnectorEventsProcessed.WithLabelValues("test-connector", result).Inc()
	}

	counter := ConnectorEventsProcessed.WithLabelValues("test-connector", "delivered")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestConnectorBytesProcessed_Counter(t *testing.T) {
	ConnectorBytesProcessed.WithLabelValues("test-connector").Add(1024)

	counter := ConnectorBytesProcessed.WithLabelValues("test-connector")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestConnectorErrors_Labels(t *testing.T) {
	stages := []string{"source", "middleware", "sink", "checkpoint"}

	for _, stage := range stages {
		ConnectorErrors.WithLabelValues("test-connector", stage).Inc()
	}

	counter := ConnectorErrors.WithLabelValues("test-connector", "sink")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestConnectorLagSeconds_Gauge(t *testing.T) {
	gauge := ConnectorLagSeconds.WithLabelValues("test-connector")

	gauge.Set(12.5)
	gauge.Add(1)
	gauge.Sub(0.5)

	if gauge == nil {
		t.Error("Expected gauge to be non-nil")
	}
}

func TestConnectorBatchSize_Observe(t *testing.T) {
	sizes := []float64{1, 10, 100, 500}
	for _, s := range sizes {
		ConnectorBatchSize.WithLabelValues("test-connector").Observe(s)
	}

	histogram := ConnectorBatchSize.WithLabelValues("test-connector")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestConnectorBatchFlushDuration_Observe(t *testing.T) {
	ConnectorBatchFlushDuration.WithLabelValues("test-connector").Observe(0.25)

	histogram := ConnectorBatchFlushDuration.WithLabelValues("test-connector")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestConnectorCheckpointSaves_Counter(t *testing.T) {
	ConnectorCheckpointSaves.WithLabelValues("test-connector").Inc()
	ConnectorCheckpointSaves.WithLabelValues("test-connector").Add(3)

	counter := ConnectorCheckpointSaves.WithLabelValues("test-connector")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestConnectorJobState_Values(t *testing.T) {
	gauge := ConnectorJobState.WithLabelValues("test-connector")

	gauge.Set(JobStateStopped)
	gauge.Set(JobStateStarting)
	gauge.Set(JobStateRunning)
	gauge.Set(JobStateStopping)
	gauge.Set(JobStateFailed)

	if gauge == nil {
		t.Error("Expected gauge to be non-nil")
	}
}

// === Schema Cache Metrics Tests ===

func TestSchemaCacheHitsAndMisses(t *testing.T) {
	SchemaCacheHits.WithLabelValues("confluent").Inc()
	SchemaCacheMisses.WithLabelValues("confluent").Inc()

	hits := SchemaCacheHits.WithLabelValues("confluent")
	misses := SchemaCacheMisses.WithLabelValues("confluent")
	if hits == nil || misses == nil {
		t.Error("Expected counters to be non-nil")
	}
}

func TestSchemaFetchDuration_Observe(t *testing.T) {
	SchemaFetchDuration.WithLabelValues("confluent").Observe(0.05)

	histogram := SchemaFetchDuration.WithLabelValues("confluent")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

// === Middleware Metrics Tests ===

func TestMiddlewareHTTPRequests_Labels(t *testing.T) {
	statusCodes := []string{"200", "201", "400", "429", "500", "502", "503"}

	for _, code := range statusCodes {
		MiddlewareHTTPRequests.WithLabelValues("test-connector", code).Inc()
	}

	counter := MiddlewareHTTPRequests.WithLabelValues("test-connector", "200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestMiddlewareHTTPDuration_Observe(t *testing.T) {
	MiddlewareHTTPDuration.WithLabelValues("test-connector").Observe(0.123)

	histogram := MiddlewareHTTPDuration.WithLabelValues("test-connector")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestMiddlewareCircuitBreakerState_Values(t *testing.T) {
	gauge := MiddlewareCircuitBreakerState.WithLabelValues("test-connector")

	gauge.Set(CircuitBreakerClosed)
	gauge.Set(CircuitBreakerOpen)
	gauge.Set(CircuitBreakerHalfOpen)

	if gauge == nil {
		t.Error("Expected gauge to be non-nil")
	}
}

func TestMiddlewareCircuitBreakerTrips_Counter(t *testing.T) {
	MiddlewareCircuitBreakerTrips.WithLabelValues("test-connector").Inc()

	counter := MiddlewareCircuitBreakerTrips.WithLabelValues("test-connector")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestMiddlewareScriptDuration_Observe(t *testing.T) {
	MiddlewareScriptDuration.WithLabelValues("test-connector").Observe(0.002)

	histogram := MiddlewareScriptDuration.WithLabelValues("test-connector")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestMiddlewareScriptErrors_Labels(t *testing.T) {
	reasons := []string{"compile", "timeout", "budget", "runtime"}
	for _, reason := range reasons {
		MiddlewareScriptErrors.WithLabelValues("test-connector", reason).Inc()
	}

	counter := MiddlewareScriptErrors.WithLabelValues("test-connector", "timeout")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

// === HTTP API Metrics Tests ===

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	methods := []string{"GET", "POST"}
	paths := []string{"/q/health", "/q/metrics", "/connectors"}
	statuses := []string{"200", "404", "500"}

	for _, method := range methods {
		for _, path := range paths {
			for _, status := range statuses {
				HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			}
		}
	}

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/q/health", "200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestHTTPRequestDuration_Observe(t *testing.T) {
	HTTPRequestDuration.WithLabelValues("GET", "/q/health").Observe(0.015)

	histogram := HTTPRequestDuration.WithLabelValues("GET", "/q/health")
	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

func TestHTTPActiveConnections_Gauge(t *testing.T) {
	HTTPActiveConnections.Set(10)
	HTTPActiveConnections.Inc()
	HTTPActiveConnections.Dec()
	HTTPActiveConnections.Add(5)
	HTTPActiveConnections.Sub(3)

	desc := HTTPActiveConnections.Desc()
	if desc == nil {
		t.Error("Expected Desc to be non-nil")
	}
}

// === Circuit Breaker / Job State Constants Tests ===

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 {
		t.Errorf("Expected CircuitBreakerClosed=0, got %d", CircuitBreakerClosed)
	}
	if CircuitBreakerOpen != 1 {
		t.Errorf("Expected CircuitBreakerOpen=1, got %d", CircuitBreakerOpen)
	}
	if CircuitBreakerHalfOpen != 2 {
		t.Errorf("Expected CircuitBreakerHalfOpen=2, got %d", CircuitBreakerHalfOpen)
	}
}

func TestJobStateConstants(t *testing.T) {
	if JobStateStopped != 0 {
		t.Errorf("Expected JobStateStopped=0, got %d", JobStateStopped)
	}
	if JobStateFailed != 4 {
		t.Errorf("Expected JobStateFailed=4, got %d", JobStateFailed)
	}
}

// === Counter Value Tests ===

func TestCounterValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})

	reg.MustRegister(counter)

	counter.Add(5)

	val := testutil.ToFloat64(counter)
	if val != 5 {
		t.Errorf("Expected counter value 5, got %f", val)
	}

	counter.Inc()

	val = testutil.ToFloat64(counter)
	if val != 6 {
		t.Errorf("Expected counter value 6, got %f", val)
	}
}

// === Gauge Value Tests ===

func TestGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})

	reg.MustRegister(gauge)

	gauge.Set(100)
	val := testutil.ToFloat64(gauge)
	if val != 100 {
		t.Errorf("Expected gauge value 100, got %f", val)
	}

	gauge.Add(50)
	val = testutil.ToFloat64(gauge)
	if val != 150 {
		t.Errorf("Expected gauge value 150, got %f", val)
	}

	gauge.Sub(30)
	val = testutil.ToFloat64(gauge)
	if val != 120 {
		t.Errorf("Expected gauge value 120, got %f", val)
	}
}

// === Histogram Tests ===

func TestHistogramBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "Test histogram",
		Buckets: []float64{0.1, 0.5, 1.0, 5.0},
	})

	reg.MustRegister(histogram)

	histogram.Observe(0.05)
	histogram.Observe(0.25)
	histogram.Observe(0.75)
	histogram.Observe(2.5)
	histogram.Observe(10.0)

	if histogram == nil {
		t.Error("Expected histogram to be non-nil")
	}
}

// === Connector Metrics Integration Tests ===

func TestConnectorMetricsIntegration(t *testing.T) {
	connectorID := "integration-test-connector"

	for i := 0; i < 100; i++ {
		switch {
		case i%10 == 0:
			ConnectorEventsProcessed.WithLabelValues(connectorID, "failed").Inc()
		case i%20 == 0:
			ConnectorEventsProcessed.WithLabelValues(connectorID, "dropped").Inc()
		default:
			ConnectorEventsProcessed.WithLabelValues(connectorID, "delivered").Inc()
		}

		ConnectorBytesProcessed.WithLabelValues(connectorID).Add(256)
	}

	ConnectorLagSeconds.WithLabelValues(connectorID).Set(1.5)
	ConnectorJobState.WithLabelValues(connectorID).Set(JobStateRunning)
}

func TestMiddlewareMetricsIntegration(t *testing.T) {
	connectorID := "integration-test-connector"

	for i := 0; i < 50; i++ {
		statusCode := "200"
		if i%5 == 0 {
			statusCode = "500"
		}
		MiddlewareHTTPRequests.WithLabelValues(connectorID, statusCode).Inc()
		MiddlewareHTTPDuration.WithLabelValues(connectorID).Observe(0.050)
	}

	MiddlewareCircuitBreakerState.WithLabelValues(connectorID).Set(CircuitBreakerClosed)
	MiddlewareCircuitBreakerState.WithLabelValues(connectorID).Set(CircuitBreakerOpen)
	MiddlewareCircuitBreakerTrips.WithLabelValues(connectorID).Inc()
	MiddlewareCircuitBreakerState.WithLabelValues(connectorID).Set(CircuitBreakerClosed)
}

// Benchmark for counter operations
func BenchmarkCounterInc(b *testing.B) {
	counter := ConnectorEventsProcessed.WithLabelValues("bench-connector", "delivered")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}

// Benchmark for histogram observations
func BenchmarkHistogramObserve(b *testing.B) {
	histogram := ConnectorBatchFlushDuration.WithLabelValues("bench-connector")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		histogram.Observe(0.123)
	}
}

// Benchmark for gauge set operations
func BenchmarkGaugeSet(b *testing.B) {
	gauge := ConnectorLagSeconds.WithLabelValues("bench-connector")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gauge.Set(float64(i))
	}
}
