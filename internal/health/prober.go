package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/drops/internal/config"
)

// Protocol types for probers.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
	ProtocolSQL  = "sql"
)

// Sample is one readiness observation of a target.
type Sample struct {
	Healthy   bool
	Timestamp time.Time
	Latency   time.Duration
	Message   string
	Metadata  map[string]interface{}
}

// Prober checks a single endpoint for readiness. Probe returns an error only
// for misconfiguration; an unhealthy target is reported through the Sample.
type Prober interface {
	Name() string
	Protocol() string
	Probe(ctx context.Context) (Sample, error)
}

// ForTarget builds the prober matching a configured check target.
func ForTarget(target config.Target) (Prober, error) {
	switch strings.ToLower(target.Type) {
	case "http":
		cfg := DefaultHTTPProbeConfig()
		cfg.Timeout = target.GetTargetTimeout()
		return NewHTTPProber(target.Name, target.Endpoint, cfg), nil
	case "grpc":
		return NewGRPCProber(target.Name, target.Endpoint, target.GetTargetTimeout()), nil
	case "postgres", "mysql":
		return NewSQLProber(target.Name, strings.ToLower(target.Type), target.Endpoint, target.GetTargetTimeout()), nil
	default:
		return nil, fmt.Errorf("no prober for target type %q", target.Type)
	}
}

// ForTargets builds probers for every check of an environment.
func ForTargets(targets []config.Target) ([]Prober, error) {
	probers := make([]Prober, 0, len(targets))
	for _, target := range targets {
		p, err := ForTarget(target)
		if err != nil {
			return nil, err
		}
		probers = append(probers, p)
	}
	return probers, nil
}
