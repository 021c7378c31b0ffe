package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/drops/internal/config"
)

func TestForTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		target       config.Target
		wantProtocol string
		wantErr      bool
	}{
		{
			name:         "http",
			target:       config.Target{Name: "api", Type: "http", Endpoint: "https://x/healthz"},
			wantProtocol: ProtocolHTTP,
		},
		{
			name:         "grpc",
			target:       config.Target{Name: "rpc", Type: "grpc", Endpoint: "x:50051"},
			wantProtocol: ProtocolGRPC,
		},
		{
			name:         "postgres",
			target:       config.Target{Name: "db", Type: "postgres", Endpoint: "postgres://x"},
			wantProtocol: ProtocolSQL,
		},
		{
			name:         "mysql case insensitive",
			target:       config.Target{Name: "db", Type: "MySQL", Endpoint: "user@tcp(x)/db"},
			wantProtocol: ProtocolSQL,
		},
		{
			name:    "unknown",
			target:  config.Target{Name: "cache", Type: "redis", Endpoint: "redis://x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := ForTarget(tt.target)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target.Name, p.Name())
			assert.Equal(t, tt.wantProtocol, p.Protocol())
		})
	}
}

func TestForTargets(t *testing.T) {
	t.Parallel()

	probers, err := ForTargets([]config.Target{
		{Name: "api", Type: "http", Endpoint: "https://x/healthz"},
		{Name: "db", Type: "postgres", Endpoint: "postgres://x"},
	})
	require.NoError(t, err)
	assert.Len(t, probers, 2)

	_, err = ForTargets([]config.Target{{Name: "bad", Type: "ftp", Endpoint: "x"}})
	require.Error(t, err)
}
