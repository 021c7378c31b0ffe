package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProbeConfig holds configuration for HTTP readiness probes.
type HTTPProbeConfig struct {
	// ExpectedStatusCodes are the HTTP status codes considered healthy.
	ExpectedStatusCodes []int

	// LatencyThreshold marks the sample unhealthy when the response takes
	// longer, even if the status code is acceptable. Zero disables the check.
	LatencyThreshold time.Duration

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Headers are custom headers to include in the probe request.
	Headers map[string]string
}

// DefaultHTTPProbeConfig returns the default HTTP probe configuration.
func DefaultHTTPProbeConfig() HTTPProbeConfig {
	return HTTPProbeConfig{
		ExpectedStatusCodes: []int{200, 201, 202, 204},
		LatencyThreshold:    5 * time.Second,
		Timeout:             10 * time.Second,
	}
}

// HTTPClient is the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProber probes an HTTP endpoint for readiness.
type HTTPProber struct {
	name     string
	endpoint string
	config   HTTPProbeConfig
	client   HTTPClient
}

// NewHTTPProber creates a new HTTP prober.
func NewHTTPProber(name, endpoint string, config HTTPProbeConfig) *HTTPProber {
	return &HTTPProber{
		name:     name,
		endpoint: endpoint,
		config:   config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// SetClient sets a custom HTTP client for testing.
func (p *HTTPProber) SetClient(client HTTPClient) {
	p.client = client
}

// Name returns the prober name.
func (p *HTTPProber) Name() string {
	return p.name
}

// Protocol returns the protocol type.
func (p *HTTPProber) Protocol() string {
	return ProtocolHTTP
}

// Probe performs one readiness check against the HTTP endpoint.
func (p *HTTPProber) Probe(ctx context.Context) (Sample, error) {
	start := time.Now()
	sample := Sample{
		Healthy:   true,
		Timestamp: start,
		Metadata:  make(map[string]interface{}),
	}

	if p.endpoint == "" {
		sample.Healthy = false
		sample.Message = "no endpoint configured"
		sample.Latency = time.Since(start)
		return sample, fmt.Errorf("no endpoint configured for target %s", p.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		sample.Healthy = false
		sample.Message = fmt.Sprintf("failed to create request: %v", err)
		sample.Latency = time.Since(start)
		return sample, err
	}

	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		sample.Healthy = false
		sample.Message = fmt.Sprintf("request failed: %v", err)
		sample.Latency = time.Since(start)
		sample.Metadata["error"] = err.Error()
		return sample, nil
	}
	defer resp.Body.Close()

	// Discard body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	latency := time.Since(start)
	sample.Latency = latency
	sample.Metadata["status_code"] = resp.StatusCode
	sample.Metadata["latency_ms"] = latency.Milliseconds()

	var messages []string

	if p.config.LatencyThreshold > 0 && latency > p.config.LatencyThreshold {
		sample.Healthy = false
		messages = append(messages, fmt.Sprintf("latency %v exceeds threshold %v",
			latency, p.config.LatencyThreshold))
	}

	statusOK := false
	for _, code := range p.config.ExpectedStatusCodes {
		if resp.StatusCode == code {
			statusOK = true
			break
		}
	}
	if !statusOK {
		sample.Healthy = false
		messages = append(messages, fmt.Sprintf("unexpected status code %d", resp.StatusCode))
	}

	if len(messages) > 0 {
		sample.Message = fmt.Sprintf("%v", messages)
	} else {
		sample.Message = fmt.Sprintf("healthy: status %d in %v", resp.StatusCode, latency)
	}

	return sample, nil
}
