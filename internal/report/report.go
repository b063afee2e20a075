// Package report renders orchestrator HostResults for human and
// machine consumers. It sits outside the scanning core: spec.md treats
// report formatting as an external collaborator that consumes the
// core's result records, so this package only reads orchestrator
// types, it never drives a scan itself.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/osprey/internal/orchestrator"
	"github.com/anstrom/osprey/internal/portscan"
)

// Format selects a rendering for WriteResults.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// WriteResults renders results in the requested format to w. An unknown
// format is treated as an error rather than silently defaulting, since a
// misspelled format flag should surface to the operator immediately.
func WriteResults(w io.Writer, results []orchestrator.HostResult, format Format) error {
	switch format {
	case FormatTable, "":
		return writeTable(w, results)
	case FormatJSON:
		return writeJSON(w, results)
	case FormatYAML:
		return writeYAML(w, results)
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}

// summaryRow is the JSON/YAML-friendly projection of a HostResult; it
// flattens the port results and the best OS match into scalar fields so
// the encoded output stays readable without nested osfp/sigdb types.
type summaryRow struct {
	Target       string       `json:"target" yaml:"target"`
	Status       string       `json:"status" yaml:"status"`
	OpenPorts    []portRow    `json:"open_ports,omitempty" yaml:"open_ports,omitempty"`
	OSGuess      string       `json:"os_guess,omitempty" yaml:"os_guess,omitempty"`
	OSConfidence string       `json:"os_confidence,omitempty" yaml:"os_confidence,omitempty"`
	Error        string       `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS   int64        `json:"duration_ms" yaml:"duration_ms"`
	Services     []serviceRow `json:"services,omitempty" yaml:"services,omitempty"`
}

type portRow struct {
	Port      uint16 `json:"port" yaml:"port"`
	Technique string `json:"technique" yaml:"technique"`
}

type serviceRow struct {
	Port    uint16 `json:"port" yaml:"port"`
	Service string `json:"service" yaml:"service"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

func toSummaryRows(results []orchestrator.HostResult) []summaryRow {
	rows := make([]summaryRow, 0, len(results))
	for _, r := range results {
		row := summaryRow{
			Target:     r.Target,
			Status:     string(r.Status),
			DurationMS: r.ScanDuration.Milliseconds(),
		}
		if r.Error != nil {
			row.Error = r.Error.Error()
		}
		for _, pr := range r.PortResults {
			if pr.Status == portscan.StatusOpen {
				row.OpenPorts = append(row.OpenPorts, portRow{Port: pr.Port, Technique: string(pr.Technique)})
			}
		}
		sort.Slice(row.OpenPorts, func(i, j int) bool { return row.OpenPorts[i].Port < row.OpenPorts[j].Port })

		for port, match := range r.Services {
			row.Services = append(row.Services, serviceRow{Port: port, Service: match.Service, Version: match.Version})
		}
		sort.Slice(row.Services, func(i, j int) bool { return row.Services[i].Port < row.Services[j].Port })

		if r.OSMatches != nil && r.OSMatches.BestMatch != nil {
			row.OSGuess = r.OSMatches.BestMatch.OSName
			if r.OSMatches.BestMatch.OSVersion != "" {
				row.OSGuess += " " + r.OSMatches.BestMatch.OSVersion
			}
			row.OSConfidence = r.OSMatches.BestMatch.ConfidenceLabel
		}
		rows = append(rows, row)
	}
	return rows
}

func writeJSON(w io.Writer, results []orchestrator.HostResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toSummaryRows(results))
}

func writeYAML(w io.Writer, results []orchestrator.HostResult) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(toSummaryRows(results))
}

func writeTable(w io.Writer, results []orchestrator.HostResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Target", "Status", "Open Ports", "Service", "OS Guess", "Confidence", "Duration")

	for _, row := range toSummaryRows(results) {
		if err := table.Append([]string{
			row.Target,
			row.Status,
			formatPorts(row.OpenPorts),
			formatServices(row.Services),
			row.OSGuess,
			row.OSConfidence,
			fmt.Sprintf("%dms", row.DurationMS),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatPorts(ports []portRow) string {
	if len(ports) == 0 {
		return "-"
	}
	out := ""
	for i, p := range ports {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d/%s", p.Port, p.Technique)
	}
	return out
}

func formatServices(services []serviceRow) string {
	if len(services) == 0 {
		return "-"
	}
	out := ""
	for i, s := range services {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d:%s", s.Port, s.Service)
		if s.Version != "" {
			out += "/" + s.Version
		}
	}
	return out
}
