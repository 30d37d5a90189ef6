package containerizer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeFileInfo struct{ os.FileInfo }

func TestDetectEnvironment(t *testing.T) {
	found := func(string) (os.FileInfo, error) { return fakeFileInfo{}, nil }
	missing := func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == "KUBERNETES_SERVICE_HOST" {
				return v
			}
			return ""
		}
	}

	tests := []struct {
		name     string
		getenv   func(string) string
		stat     func(string) (os.FileInfo, error)
		expected Environment
	}{
		{"kubernetes wins over dockerenv", env("10.0.0.1"), found, Environment{InKubernetes: true}},
		{"docker", env(""), found, Environment{InDocker: true}},
		{"local", env(""), missing, Environment{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectEnvironment(tt.getenv, tt.stat))
		})
	}
}

func TestEnvironmentString(t *testing.T) {
	assert.Equal(t, "kubernetes", Environment{InKubernetes: true}.String())
	assert.Equal(t, "docker", Environment{InDocker: true}.String())
	assert.Equal(t, "local", Environment{}.String())
}
