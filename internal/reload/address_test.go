package reload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karavan/internal/containerizer"
	"karavan/internal/status"
)

func TestResolveAddress(t *testing.T) {
	rec := status.NewDevMode("orders", "dev")
	rec.PodIP = "10.1.2.3"
	rec.Ports = []status.Port{
		{PrivatePort: 5005, PublicPort: 40001},
		{PrivatePort: 8080, PublicPort: 40002},
	}

	tests := []struct {
		name     string
		env      containerizer.Environment
		rec      func(status.ContainerStatus) status.ContainerStatus
		expected string
	}{
		{
			name:     "cluster uses pod ip",
			env:      containerizer.Environment{InKubernetes: true, InDocker: true},
			expected: "http://10.1.2.3:8080",
		},
		{
			name:     "engine network uses container name",
			env:      containerizer.Environment{InDocker: true},
			expected: "http://orders:8080",
		},
		{
			name:     "local uses port published for 8080",
			expected: "http://localhost:40002",
		},
		{
			name: "local falls back to first published port",
			rec: func(r status.ContainerStatus) status.ContainerStatus {
				r.Ports = []status.Port{{PrivatePort: 9000}, {PrivatePort: 5005, PublicPort: 40001}}
				return r
			},
			expected: "http://localhost:40001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec.Copy()
			if tt.rec != nil {
				r = tt.rec(r)
			}
			got, err := ResolveAddress(r, tt.env, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveAddress_Failures(t *testing.T) {
	rec := status.NewDevMode("orders", "dev")

	_, err := ResolveAddress(rec, containerizer.Environment{InKubernetes: true}, 8080)
	assert.True(t, IsAddressResolution(err))

	rec.Ports = []status.Port{{PrivatePort: 8080}}
	_, err = ResolveAddress(rec, containerizer.Environment{}, 8080)
	assert.True(t, IsAddressResolution(err))
	assert.Contains(t, err.Error(), "orders")
}
