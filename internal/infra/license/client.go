// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package license is the HTTP transport for key and provisioning exchanges.
package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/ManuGH/xg2g-drm/internal/metrics"
	"github.com/ManuGH/xg2g-drm/internal/resilience"
	"github.com/ManuGH/xg2g-drm/internal/telemetry"
)

// ErrNoLicenseURL is returned when neither the request nor the client
// configuration names a license server.
var ErrNoLicenseURL = errors.New("no license server url")

const (
	playReadySOAPAction = "http://schemas.microsoft.com/DRM/2007/03/protocols/AcquireLicense"
	maxResponseBytes    = 1 << 20

	exchangeKey       = "key"
	exchangeProvision = "provision"
)

// Options configures the Client.
type Options struct {
	// LicenseURL is used when a key request carries no destination.
	LicenseURL string
	// ProvisioningURL overrides the engine-supplied default URL.
	ProvisioningURL  string
	Headers          map[string]string
	Timeout          time.Duration
	RateLimit        rate.Limit
	RateLimitBurst   int
	BreakerThreshold int
	BreakerReset     time.Duration
	UserAgent        string
	// HTTPClient replaces the default instrumented client.
	HTTPClient *http.Client
}

const (
	defaultTimeout = 30 * time.Second
	defaultBurst   = 5
)

// Client implements ports.Transport over HTTP.
type Client struct {
	licenseURL      string
	provisioningURL string
	headers         map[string]string
	userAgent       string

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	provGroup  singleflight.Group
}

var _ ports.Transport = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultBurst
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "xg2g-drm"
	}

	hc := opts.HTTPClient
	if hc == nil {
		base := &http.Transport{
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
		}
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		}
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Client{
		licenseURL:      opts.LicenseURL,
		provisioningURL: opts.ProvisioningURL,
		headers:         headers,
		userAgent:       opts.UserAgent,
		httpClient:      hc,
		limiter:         rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		breaker: resilience.NewCircuitBreaker("license_server", opts.BreakerThreshold, opts.BreakerReset,
			resilience.WithFailureFilter(countsAsOutage)),
	}
}

// countsAsOutage keeps server-side denials out of the breaker. Only network
// failures and 5xx answers count.
func countsAsOutage(err error) bool {
	var statusErr *ports.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// ExecuteKeyRequest posts the opaque key request to the license server.
func (c *Client) ExecuteKeyRequest(ctx context.Context, scheme uuid.UUID, req model.KeyRequest) ([]byte, error) {
	target := req.LicenseServerURL
	if target == "" {
		target = c.licenseURL
	}
	if target == "" {
		return nil, ErrNoLicenseURL
	}

	header := http.Header{}
	switch scheme {
	case model.PlayReadyUUID:
		header.Set("Content-Type", "text/xml; charset=utf-8")
		header.Set("SOAPAction", playReadySOAPAction)
	case model.ClearKeyUUID:
		header.Set("Content-Type", "application/json")
	default:
		header.Set("Content-Type", "application/octet-stream")
	}
	return c.do(ctx, exchangeKey, scheme, target, req.Data, header)
}

// ExecuteProvisionRequest posts the signed provisioning request. Concurrent
// identical requests share one round trip.
func (c *Client) ExecuteProvisionRequest(ctx context.Context, scheme uuid.UUID, req model.ProvisionRequest) ([]byte, error) {
	base := c.provisioningURL
	if base == "" {
		base = req.DefaultURL
	}
	if base == "" {
		return nil, ErrNoLicenseURL
	}
	target, err := provisioningTarget(base, req.Data)
	if err != nil {
		return nil, err
	}

	ch := c.provGroup.DoChan(target, func() (any, error) {
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		return c.do(context.WithoutCancel(ctx), exchangeProvision, scheme, target, nil, header)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RecordProvisioningShared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

func (c *Client) do(ctx context.Context, kind string, scheme uuid.UUID, target string, body []byte, header http.Header) ([]byte, error) {
	schemeName := model.SchemeName(scheme)
	ctx, span := telemetry.Tracer().Start(ctx, "drm.license."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.ExchangeAttributes(schemeName, kind, len(body))...))
	defer span.End()

	if c.limiter.Tokens() < 1 {
		metrics.RecordRateLimited(kind)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		telemetry.RecordError(span, err, string(model.KindTransport))
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var out []byte
	status := 0
	start := time.Now()
	err := c.breaker.Execute(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request for %s: %w", redactQuery(target), redactURLError(err))
		}
		for k, v := range c.headers {
			httpReq.Header.Set(k, v)
		}
		for k, v := range header {
			httpReq.Header[k] = v
		}
		httpReq.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return redactURLError(err)
		}
		defer func() { _ = resp.Body.Close() }()
		status = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			return &ports.HTTPStatusError{URL: redactQuery(target), StatusCode: resp.StatusCode}
		}
		out, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	})
	metrics.ObserveLicenseRequest(kind, schemeName, status, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		telemetry.RecordError(span, err, string(model.KindTransport))
		return nil, fmt.Errorf("%s exchange: %w", kind, err)
	}
	return out, nil
}

// provisioningTarget adds the signed request to the query of base.
func provisioningTarget(base string, signed []byte) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid provisioning url %s: %w", redactQuery(base), redactURLError(err))
	}
	q := u.Query()
	q.Set("signedRequest", string(signed))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactQuery drops the query, fragment and userinfo so signed requests stay
// out of errors and logs.
func redactQuery(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		if i := strings.IndexAny(target, "?#"); i >= 0 {
			return target[:i]
		}
		return target
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

// redactURLError rewrites the URL carried by a *url.Error.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: redactQuery(ue.URL), Err: ue.Err}
	}
	return err
}

// BreakerState reports the license server circuit state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
