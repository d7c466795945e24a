package middleware

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
	"go.flowcatalyst.tech/internal/connector/sink"
)

// HTTPConfig mirrors the http service fields in spec.md §6, the same
// defaults the HTTP sink uses.
type HTTPConfig struct {
	Host                 string
	Resource             string
	MaxRetries           int
	BaseBackoffMs        int
	ConnectionTimeoutSec int
	TimeoutSec           int
	TCPKeepaliveSec      int
	Version              sink.HTTPVersion
}

func DefaultHTTPConfig(host, resource string) HTTPConfig {
	return HTTPConfig{
		Host:                 host,
		Resource:             resource,
		MaxRetries:           5,
		BaseBackoffMs:        1000,
		ConnectionTimeoutSec: 30,
		TimeoutSec:           30,
		TCPKeepaliveSec:      300,
		Version:              sink.HTTPVersion2,
	}
}

// HTTP is the HTTP middleware: POSTs the payload to service.host/resource,
// carrying attributes as x-mstream-* headers; the response body becomes
// the new payload and x-mstream-* response headers replace/augment
// attributes. Grounded directly on internal/router/mediator.HTTPMediator's
// transport construction, retry loop, and circuit breaker.
type HTTP struct {
	connectorID string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	retry       sink.RetryPolicy
	url         string
}

func NewHTTP(connectorID string, cfg HTTPConfig) *HTTP {
	dialer := &net.Dialer{
		Timeout:   time.Duration(cfg.ConnectionTimeoutSec) * time.Second,
		KeepAlive: time.Duration(cfg.TCPKeepaliveSec) * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   cfg.Version == sink.HTTPVersion2,
	}
	if cfg.Version == sink.HTTPVersion11 {
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        connectorID + ".middleware.http",
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.MiddlewareCircuitBreakerState.WithLabelValues(connectorID).Set(stateValue(to))
			if to == gobreaker.StateOpen {
				metrics.MiddlewareCircuitBreakerTrips.WithLabelValues(connectorID).Inc()
			}
		},
	})

	return &HTTP{
		connectorID: connectorID,
		client:      client,
		breaker:     breaker,
		retry:       sink.RetryPolicy{MaxRetries: cfg.MaxRetries, BaseBackoff: time.Duration(cfg.BaseBackoffMs) * time.Millisecond},
		url:         strings.TrimRight(cfg.Host, "/") + "/" + strings.TrimLeft(cfg.Resource, "/"),
	}
}

func (h *HTTP) Transform(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	var respBody []byte
	respAttrs := attributes

	err := h.retry.Do(ctx, func(ctx context.Context) error {
		_, err := h.breaker.Execute(func() (any, error) {
			body, attrs, err := h.doOnce(ctx, payload, attributes)
			if err != nil {
				return nil, err
			}
			respBody = body
			respAttrs = attrs
			return nil, nil
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return respBody, respAttrs, nil
}

func (h *HTTP) doOnce(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, connector.InternalInvariant("middleware.http.transform", err)
	}
	req.Header.Set("x-mstream-request-id", uuid.NewString())
	for k, v := range attributes {
		req.Header.Set("x-mstream-"+k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	metrics.MiddlewareHTTPDuration.WithLabelValues(h.connectorID).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	metrics.MiddlewareHTTPRequests.WithLabelValues(h.connectorID, strconv.Itoa(resp.StatusCode)).Inc()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, nil, err
	}

	merged := mergeAttributes(attributes, resp.Header)
	return body, merged, nil
}

func mergeAttributes(base map[string]string, header http.Header) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k := range header {
		if strings.HasPrefix(strings.ToLower(k), "x-mstream-") {
			name := strings.TrimPrefix(strings.ToLower(k), "x-mstream-")
			out[name] = header.Get(k)
		}
	}
	return out
}

func classifyTransportErr(err error) error {
	return connector.Transient("middleware.http.transform", fmt.Errorf("request failed: %w", err))
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return connector.Transient("middleware.http.transform", fmt.Errorf("status %d", status))
	case status >= 500 || status == http.StatusRequestTimeout:
		return connector.Transient("middleware.http.transform", fmt.Errorf("status %d", status))
	case status >= 400:
		return connector.SinkPermanent("middleware.http.transform", fmt.Errorf("status %d", status))
	default:
		return connector.Transient("middleware.http.transform", fmt.Errorf("status %d", status))
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return metrics.CircuitBreakerClosed
	case gobreaker.StateOpen:
		return metrics.CircuitBreakerOpen
	default:
		return metrics.CircuitBreakerHalfOpen
	}
}
