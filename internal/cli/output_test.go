package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karavan/internal/client"
	"karavan/internal/reload"
	"karavan/internal/status"
)

func sampleStatuses() []status.ContainerStatus {
	orders := status.NewDevMode("orders", "dev")
	orders.State = status.StateRunning
	orders.CodeLoaded = true
	orders.CPUInfo = "250m"
	orders.MemoryInfo = "128MiB / 1GiB"
	orders.Ports = []status.Port{{PrivatePort: 8080, PublicPort: 30001}}
	orders.Commit = "0123456789abcdef"

	billing := status.NewDevMode("billing", "dev")
	billing.InTransit = true
	return []status.ContainerStatus{orders, billing}
}

func TestValidateOutputFormat(t *testing.T) {
	for _, f := range []string{"table", "wide", "json", "yaml"} {
		assert.NoError(t, ValidateOutputFormat(f), f)
	}
	err := ValidateOutputFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestPrintStatuses_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintStatuses(&buf, sampleStatuses(), PrintOptions{Format: OutputFormatTable}))

	out := buf.String()
	assert.Contains(t, out, "PROJECT")
	assert.Contains(t, out, "starting")
	assert.Contains(t, out, "250m")
	assert.NotContains(t, out, "30001->8080")
	assert.Less(t, strings.Index(out, "billing"), strings.Index(out, "orders"))
}

func TestPrintStatuses_Wide(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintStatuses(&buf, sampleStatuses(), PrintOptions{Format: OutputFormatWide}))

	out := buf.String()
	assert.Contains(t, out, "30001->8080")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
}

func TestPrintStatuses_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintStatuses(&buf, sampleStatuses(), PrintOptions{Format: OutputFormatTable, NoHeaders: true}))

	out := buf.String()
	assert.NotContains(t, out, "PROJECT")
	assert.NotContains(t, out, "╭")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "billing"))
}

func TestPrintStatuses_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintStatuses(&buf, nil, PrintOptions{Format: OutputFormatTable}))
	assert.Contains(t, buf.String(), "No containers found")

	buf.Reset()
	require.NoError(t, PrintStatuses(&buf, nil, PrintOptions{Format: OutputFormatTable, NoHeaders: true}))
	assert.Empty(t, buf.String())
}

func TestPrintStatuses_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintStatuses(&buf, sampleStatuses(), PrintOptions{Format: OutputFormatJSON}))

	var got []status.ContainerStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "billing", got[0].ProjectID)
	assert.True(t, got[1].CodeLoaded)
}

func TestPrintStatuses_YAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintStatuses(&buf, sampleStatuses(), PrintOptions{Format: OutputFormatYAML}))

	out := buf.String()
	assert.Contains(t, out, "projectId: orders")
	assert.Contains(t, out, "codeLoaded: true")
}

func TestPrintWorkloads(t *testing.T) {
	wl := Workloads{
		Deployments: []status.DeploymentStatus{{ProjectID: "orders", Env: "dev", Namespace: "karavan", Replicas: 2, ReadyReplicas: 1, Image: "orders:1.0"}},
		Services:    []status.ServiceStatus{{ProjectID: "orders", Env: "dev", Namespace: "karavan", Type: "ClusterIP", Port: 80, TargetPort: 8080}},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintWorkloads(&buf, wl, PrintOptions{Format: OutputFormatTable, NoHeaders: true}))
	out := buf.String()
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "80->8080")
	assert.NotContains(t, out, "orders:1.0")

	buf.Reset()
	require.NoError(t, PrintWorkloads(&buf, wl, PrintOptions{Format: OutputFormatWide}))
	assert.Contains(t, buf.String(), "orders:1.0")

	buf.Reset()
	require.NoError(t, PrintWorkloads(&buf, Workloads{}, PrintOptions{Format: OutputFormatTable}))
	assert.Contains(t, buf.String(), "No workloads found")

	buf.Reset()
	require.NoError(t, PrintWorkloads(&buf, wl, PrintOptions{Format: OutputFormatJSON}))
	var decoded Workloads
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, wl, decoded)
}

func TestPrintReloadResult(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := reload.Result{
		ProjectID: "orders",
		Success:   false,
		Error:     "upload failed",
		Files:     3,
		Started:   start,
		Finished:  start.Add(1500 * time.Millisecond),
	}

	var buf bytes.Buffer
	require.NoError(t, PrintReloadResult(&buf, res, OutputFormatTable))
	out := buf.String()
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "upload failed")

	buf.Reset()
	require.NoError(t, PrintReloadResult(&buf, res, OutputFormatJSON))
	assert.Contains(t, buf.String(), `"files": 3`)
}

func TestExplainError(t *testing.T) {
	assert.NoError(t, ExplainError(nil, "http://x"))

	notFound := &client.APIError{StatusCode: 404, Message: "no container"}
	err := ExplainError(notFound, "http://x")
	assert.True(t, errors.Is(err, client.ErrNotFound))
	assert.Contains(t, err.Error(), "dev-mode container")

	conflict := &client.APIError{StatusCode: 409, Message: "busy"}
	assert.Equal(t, conflict, ExplainError(conflict, "http://x"))

	err = ExplainError(errors.New("connection refused"), "http://x")
	assert.Contains(t, err.Error(), "karavan serve")
}

func TestGetDefaultServer(t *testing.T) {
	t.Setenv(ServerEnvVar, "")
	assert.Equal(t, client.DefaultServerURL, GetDefaultServer())

	t.Setenv(ServerEnvVar, "http://karavan:9000")
	assert.Equal(t, "http://karavan:9000", GetDefaultServer())
}

func TestFormatMessages(t *testing.T) {
	assert.Equal(t, "Error: boom", FormatError(errors.New("boom")))
	assert.Equal(t, "✓ done", FormatSuccess("done"))
	assert.Equal(t, "⚠ careful", FormatWarning("careful"))
}
