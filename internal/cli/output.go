package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	sigsyaml "sigs.k8s.io/yaml"

	"karavan/internal/reload"
	"karavan/internal/status"
	pkgstrings "karavan/pkg/strings"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatWide  OutputFormat = "wide"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ValidateOutputFormat checks that format is supported.
func ValidateOutputFormat(format string) error {
	switch OutputFormat(format) {
	case OutputFormatTable, OutputFormatWide, OutputFormatJSON, OutputFormatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %q (valid: table, wide, json, yaml)", format)
	}
}

// PrintOptions controls status rendering.
type PrintOptions struct {
	Format    OutputFormat
	NoHeaders bool
}

// PrintStatuses renders recs sorted by project, environment and type.
func PrintStatuses(w io.Writer, recs []status.ContainerStatus, opts PrintOptions) error {
	sorted := make([]status.ContainerStatus, len(recs))
	copy(sorted, recs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key().String() < sorted[j].Key().String()
	})

	switch opts.Format {
	case OutputFormatJSON:
		return printJSON(w, sorted)
	case OutputFormatYAML:
		return printYAML(w, sorted)
	}

	if len(sorted) == 0 {
		if !opts.NoHeaders {
			fmt.Fprintln(w, text.FgYellow.Sprint("No containers found"))
		}
		return nil
	}

	wide := opts.Format == OutputFormatWide
	t := newTable(w, opts.NoHeaders)
	header := table.Row{"PROJECT", "ENV", "TYPE", "STATE", "CODE", "CPU", "MEMORY"}
	if wide {
		header = append(header, "CONTAINER", "ADDRESS", "PORTS", "COMMIT")
	}
	if !opts.NoHeaders {
		t.AppendHeader(colorHeader(header))
	}
	for _, rec := range sorted {
		row := table.Row{
			rec.ProjectID,
			rec.Env,
			string(rec.Type),
			formatState(rec, opts.NoHeaders),
			formatBool(rec.CodeLoaded),
			dash(rec.CPUInfo),
			dash(rec.MemoryInfo),
		}
		if wide {
			row = append(row, dash(rec.ContainerName), dash(rec.PodIP), formatPorts(rec.Ports), dash(shortCommit(rec.Commit)))
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

// Workloads is the Kubernetes side of a project: its deployments and
// services.
type Workloads struct {
	Deployments []status.DeploymentStatus `json:"deployments"`
	Services    []status.ServiceStatus    `json:"services"`
}

// PrintWorkloads renders deployments and services as two tables.
func PrintWorkloads(w io.Writer, wl Workloads, opts PrintOptions) error {
	switch opts.Format {
	case OutputFormatJSON:
		return printJSON(w, wl)
	case OutputFormatYAML:
		return printYAML(w, wl)
	}

	if len(wl.Deployments) == 0 && len(wl.Services) == 0 {
		if !opts.NoHeaders {
			fmt.Fprintln(w, text.FgYellow.Sprint("No workloads found"))
		}
		return nil
	}

	wide := opts.Format == OutputFormatWide
	if len(wl.Deployments) > 0 {
		t := newTable(w, opts.NoHeaders)
		header := table.Row{"DEPLOYMENT", "ENV", "NAMESPACE", "READY", "UNAVAILABLE"}
		if wide {
			header = append(header, "IMAGE", "CLUSTER")
		}
		if !opts.NoHeaders {
			t.AppendHeader(colorHeader(header))
		}
		for _, d := range wl.Deployments {
			row := table.Row{d.ProjectID, d.Env, d.Namespace, fmt.Sprintf("%d/%d", d.ReadyReplicas, d.Replicas), d.UnavailableReplicas}
			if wide {
				row = append(row, dash(d.Image), dash(d.Cluster))
			}
			t.AppendRow(row)
		}
		t.Render()
	}

	if len(wl.Services) > 0 {
		t := newTable(w, opts.NoHeaders)
		header := table.Row{"SERVICE", "ENV", "NAMESPACE", "TYPE", "PORT"}
		if wide {
			header = append(header, "CLUSTER-IP", "CLUSTER")
		}
		if !opts.NoHeaders {
			t.AppendHeader(colorHeader(header))
		}
		for _, svc := range wl.Services {
			row := table.Row{svc.ProjectID, svc.Env, svc.Namespace, dash(svc.Type), fmt.Sprintf("%d->%d", svc.Port, svc.TargetPort)}
			if wide {
				row = append(row, dash(svc.ClusterIP), dash(svc.Cluster))
			}
			t.AppendRow(row)
		}
		t.Render()
	}
	return nil
}

// PrintReloadResult renders the outcome of a reload.
func PrintReloadResult(w io.Writer, res reload.Result, format OutputFormat) error {
	switch format {
	case OutputFormatJSON:
		return printJSON(w, res)
	case OutputFormatYAML:
		return printYAML(w, res)
	}

	t := newTable(w, false)
	t.AppendHeader(colorHeader(table.Row{"PROJECT", "RESULT", "FILES", "COMMIT", "DURATION"}))
	outcome := text.FgGreen.Sprint("loaded")
	if !res.Success {
		outcome = text.FgRed.Sprint("failed")
	}
	t.AppendRow(table.Row{
		res.ProjectID,
		outcome,
		res.Files,
		dash(shortCommit(res.Commit)),
		res.Finished.Sub(res.Started).Round(time.Millisecond).String(),
	})
	t.Render()
	if res.Error != "" {
		fmt.Fprintln(w, text.FgRed.Sprint(pkgstrings.TruncateLine(res.Error, pkgstrings.DefaultLineMaxLen)))
	}
	return nil
}

func newTable(w io.Writer, plain bool) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if plain {
		style := table.StyleDefault
		style.Options = table.OptionsNoBordersAndSeparators
		style.Box.PaddingLeft = ""
		style.Box.PaddingRight = "   "
		t.SetStyle(style)
		return t
	}
	t.SetStyle(table.StyleRounded)
	return t
}

func colorHeader(row table.Row) table.Row {
	out := make(table.Row, len(row))
	for i, v := range row {
		out[i] = text.FgHiCyan.Sprint(v)
	}
	return out
}

func formatState(rec status.ContainerStatus, plain bool) string {
	state := string(rec.State)
	if rec.InTransit {
		state = "starting"
	}
	if state == "" {
		state = "unknown"
	}
	if plain {
		return state
	}
	switch {
	case rec.InTransit:
		return text.FgYellow.Sprint(state)
	case rec.State == status.StateRunning:
		return text.FgGreen.Sprint(state)
	case rec.State == status.StateDead || rec.State == status.StateExited:
		return text.FgRed.Sprint(state)
	default:
		return state
	}
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatPorts(ports []status.Port) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort > 0 {
			parts = append(parts, fmt.Sprintf("%d->%d", p.PublicPort, p.PrivatePort))
		} else {
			parts = append(parts, fmt.Sprintf("%d", p.PrivatePort))
		}
	}
	return strings.Join(parts, ",")
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v interface{}) error {
	data, err := sigsyaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to convert to YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}
