package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"go.flowcatalyst.tech/internal/common/metrics"
	"go.flowcatalyst.tech/internal/connector"
)

// HTTPVersion selects the transport's protocol negotiation, mirroring
// internal/router/mediator.go's HTTP_1_1/HTTP_2 toggle.
type HTTPVersion string

const (
	HTTPVersion11 HTTPVersion = "HTTP_1_1"
	HTTPVersion2  HTTPVersion = "HTTP_2"
)

// HTTPSinkConfig mirrors the http service fields in spec.md §6.
type HTTPSinkConfig struct {
	Host                 string
	MaxRetries           int
	BaseBackoffMs        int
	ConnectionTimeoutSec int
	TimeoutSec           int
	TCPKeepaliveSec      int
	Version              HTTPVersion
}

func DefaultHTTPSinkConfig(host string) HTTPSinkConfig {
	return HTTPSinkConfig{
		Host:                 host,
		MaxRetries:           5,
		BaseBackoffMs:        1000,
		ConnectionTimeoutSec: 30,
		TimeoutSec:           30,
		TCPKeepaliveSec:      300,
		Version:              HTTPVersion2,
	}
}

// HTTPSink POSTs a record (or, for a batch, its array body) to
// host/resource, sharing the retry/circuit-breaker shape with the HTTP
// middleware — both are grounded on internal/router/mediator.HTTPMediator.
type HTTPSink struct {
	connectorID string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	retry       RetryPolicy
	host        string
}

func NewHTTPSink(connectorID string, cfg HTTPSinkConfig) *HTTPSink {
	dialer := &net.Dialer{
		Timeout:   time.Duration(cfg.ConnectionTimeoutSec) * time.Second,
		KeepAlive: time.Duration(cfg.TCPKeepaliveSec) * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   cfg.Version == HTTPVersion2,
	}
	if cfg.Version == HTTPVersion11 {
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        connectorID + ".sink.http",
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.MiddlewareCircuitBreakerState.WithLabelValues(connectorID).Set(circuitBreakerStateValue(to))
			if to == gobreaker.StateOpen {
				metrics.MiddlewareCircuitBreakerTrips.WithLabelValues(connectorID).Inc()
			}
		},
	})

	return &HTTPSink{
		connectorID: connectorID,
		client:      client,
		breaker:     breaker,
		retry:       RetryPolicy{MaxRetries: cfg.MaxRetries, BaseBackoff: time.Duration(cfg.BaseBackoffMs) * time.Millisecond},
		host:        cfg.Host,
	}
}

func (s *HTTPSink) Write(ctx context.Context, record *connector.PipelineRecord) (Acknowledgement, error) {
	var respBody []byte
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.breaker.Execute(func() (any, error) {
			body, err := s.doOnce(ctx, record)
			if err != nil {
				return nil, err
			}
			respBody = body
			return nil, nil
		})
		return err
	})
	if err != nil {
		return Acknowledgement{}, err
	}
	return Acknowledgement{Detail: string(respBody)}, nil
}

func (s *HTTPSink) doOnce(ctx context.Context, record *connector.PipelineRecord) ([]byte, error) {
	url := s.host
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(record.DecodedValue))
	if err != nil {
		return nil, connector.InternalInvariant("sink.http.write", err)
	}
	req.Header.Set("Content-Type", string(record.Encoding))
	req.Header.Set("x-mstream-request-id", uuid.NewString())
	for k, v := range record.Attributes {
		req.Header.Set("x-mstream-"+k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.MiddlewareHTTPDuration.WithLabelValues(s.connectorID).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyHTTPTransportErr(err)
	}
	defer resp.Body.Close()

	metrics.MiddlewareHTTPRequests.WithLabelValues(s.connectorID, strconv.Itoa(resp.StatusCode)).Inc()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	return body, classifyHTTPStatus(resp.StatusCode, resp.Header)
}

func classifyHTTPTransportErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "dial tcp") {
		return connector.Transient("sink.http.write", err)
	}
	return connector.Transient("sink.http.write", err)
}

func classifyHTTPStatus(status int, header http.Header) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return connector.Transient("sink.http.write", fmt.Errorf("status %d (retry-after=%s)", status, header.Get("Retry-After")))
	case status >= 500 || status == http.StatusRequestTimeout:
		return connector.Transient("sink.http.write", fmt.Errorf("status %d", status))
	case status >= 400:
		return connector.SinkPermanent("sink.http.write", fmt.Errorf("status %d", status))
	default:
		return connector.Transient("sink.http.write", fmt.Errorf("status %d", status))
	}
}

func circuitBreakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return metrics.CircuitBreakerClosed
	case gobreaker.StateOpen:
		return metrics.CircuitBreakerOpen
	default:
		return metrics.CircuitBreakerHalfOpen
	}
}
