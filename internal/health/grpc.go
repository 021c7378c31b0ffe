package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProber probes a gRPC endpoint using the standard health service.
type GRPCProber struct {
	name     string
	endpoint string
	timeout  time.Duration
	service  string

	// dialOpts can be swapped in tests to dial a bufconn listener.
	dialOpts []grpc.DialOption
}

// NewGRPCProber creates a new gRPC health prober.
func NewGRPCProber(name, endpoint string, timeout time.Duration) *GRPCProber {
	return &GRPCProber{
		name:     name,
		endpoint: endpoint,
		timeout:  timeout,
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}
}

// SetDialOptions replaces the dial options, used by tests to target an
// in-memory listener.
func (p *GRPCProber) SetDialOptions(opts ...grpc.DialOption) {
	p.dialOpts = opts
}

// SetService sets the service name passed to the health check. Empty checks
// overall server health.
func (p *GRPCProber) SetService(service string) {
	p.service = service
}

// Name returns the prober name.
func (p *GRPCProber) Name() string {
	return p.name
}

// Protocol returns the protocol type.
func (p *GRPCProber) Protocol() string {
	return ProtocolGRPC
}

// Probe dials the endpoint and issues a grpc.health.v1 Check.
func (p *GRPCProber) Probe(ctx context.Context) (Sample, error) {
	start := time.Now()
	sample := Sample{
		Timestamp: start,
		Metadata:  make(map[string]interface{}),
	}

	if p.endpoint == "" {
		sample.Message = "no endpoint configured"
		sample.Latency = time.Since(start)
		return sample, fmt.Errorf("no endpoint configured for target %s", p.name)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	conn, err := grpc.NewClient(p.endpoint, p.dialOpts...)
	if err != nil {
		sample.Message = fmt.Sprintf("dial failed: %v", err)
		sample.Latency = time.Since(start)
		sample.Metadata["error"] = err.Error()
		return sample, nil
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: p.service,
	})
	latency := time.Since(start)
	sample.Latency = latency
	sample.Metadata["latency_ms"] = latency.Milliseconds()

	if err != nil {
		sample.Message = fmt.Sprintf("health check failed: %v", err)
		sample.Metadata["error"] = err.Error()
		return sample, nil
	}

	sample.Metadata["status"] = resp.GetStatus().String()
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		sample.Healthy = true
		sample.Message = fmt.Sprintf("healthy: SERVING in %v", latency)
	} else {
		sample.Message = fmt.Sprintf("not serving: %s", resp.GetStatus())
	}

	return sample, nil
}
