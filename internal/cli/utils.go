// Package cli provides output helpers for the academiaos command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/pipeline"
	"github.com/academiaos/academiaos/internal/telemetry"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat returns the named format. Unknown names are an error.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text or json)", s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteModel writes the session document to w in the given format.
func WriteModel(w io.Writer, m *models.ModelData, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, m)
	}
	writeModelText(w, m)
	return nil
}

func writeModelText(w io.Writer, m *models.ModelData) {
	if m.Query != "" {
		fmt.Fprintf(w, "Query: %s\n", m.Query)
	}
	fmt.Fprintf(w, "Papers: %d\n", len(m.Papers))
	for _, p := range m.Papers {
		state := "uncoded"
		if p.HasInitialCodes() {
			state = fmt.Sprintf("%d codes", len(p.InitialCodes()))
		}
		fmt.Fprintf(w, "  - %s  %s (%s)\n", p.ID, Truncate(p.Title, 70), state)
	}
	fmt.Fprintf(w, "\nFirst-order codes: %d\n", len(m.FirstOrderCodes))
	fmt.Fprintf(w, "Themes: %d\n", len(m.SecondOrderCodes))

	if len(m.AggregateDimensions) > 0 {
		fmt.Fprintln(w, "\n--- Data structure ---")
		for _, dim := range sortedKeys(m.AggregateDimensions) {
			fmt.Fprintf(w, "%s\n", dim)
			for _, theme := range m.AggregateDimensions[dim] {
				fmt.Fprintf(w, "  %s (%d codes)\n", theme, len(m.SecondOrderCodes[theme]))
			}
		}
	}
	if len(m.Interrelationships) > 0 {
		fmt.Fprintln(w, "\n--- Interrelationships ---")
		for _, rel := range m.Interrelationships {
			fmt.Fprintf(w, "%s <-> %s: %s\n", rel.Concepts[0], rel.Concepts[1], TruncateWords(rel.Interrelationship, 30))
		}
	}
	if m.ModelName != "" || m.ModelDescription != "" {
		fmt.Fprintln(w, "\n--- Model ---")
		if m.ModelName != "" {
			fmt.Fprintf(w, "Name: %s\n", m.ModelName)
		}
		if m.ModelDescription != "" {
			fmt.Fprintf(w, "\n%s\n", m.ModelDescription)
		}
	}
	if m.ModelVisualization != "" {
		fmt.Fprintf(w, "\n--- Visualization ---\n%s\n", m.ModelVisualization)
	}
	if m.Critique != "" {
		fmt.Fprintf(w, "\n--- Critique ---\n%s\n", m.Critique)
	}
}

func sortedKeys(m models.CodeMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// WriteReports writes phase reports to w in the given format.
func WriteReports(w io.Writer, reports []*pipeline.PhaseReport, format OutputFormat) error {
	if format == OutputJSON {
		type row struct {
			*pipeline.PhaseReport
			Message string `json:"error,omitempty"`
		}
		rows := make([]row, len(reports))
		for i, rep := range reports {
			rows[i] = row{PhaseReport: rep, Message: rep.Error()}
		}
		return writeJSON(w, rows)
	}
	for _, rep := range reports {
		fmt.Fprintf(w, "%-10s %-16s items=%d failed=%d skipped=%d (%s)\n",
			rep.Phase, rep.State, rep.Items, rep.Failed, rep.Skipped, rep.Duration.Round(time.Millisecond))
		for _, warn := range rep.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
		if msg := rep.Error(); msg != "" {
			fmt.Fprintf(w, "  error: %s\n", msg)
		}
	}
	return nil
}

// WriteUsage writes the usage summary to w in the given format.
func WriteUsage(w io.Writer, rows []telemetry.UsageSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No usage recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-10s %-28s %6s %6s %10s %10s %8s\n", "PROVIDER", "MODEL", "CALLS", "ERRORS", "IN", "OUT", "AVG MS")
	for _, r := range rows {
		fmt.Fprintf(w, "%-10s %-28s %6d %6d %10d %10d %8d\n",
			r.Provider, Truncate(r.Model, 28), r.Calls, r.Errors, r.InputTokens, r.OutputTokens, r.AvgLatencyMS)
	}
	return nil
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
