package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Output format constants.
const (
	outputJSON  = "json"
	outputYAML  = "yaml"
	outputTable = "table"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal YAML: %w", err)
	}
	_, err = fmt.Fprint(stdout, string(data))
	return err
}

// printStructured handles the json and yaml formats. It reports false for
// table output so the caller renders its own table.
func printStructured(v any) (bool, error) {
	switch flagOutput {
	case outputJSON:
		return true, printJSON(v)
	case outputYAML:
		return true, printYAML(v)
	case outputTable, "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (table, json, yaml)", flagOutput)
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type tableWriter struct {
	w *tabwriter.Writer
}

func newTable(headers ...string) *tableWriter {
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	return &tableWriter{w: w}
}

func (t *tableWriter) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *tableWriter) Flush() {
	t.w.Flush()
}

func printTotal(total int) {
	if total == 0 {
		fmt.Fprintln(stdout, "No resources found.")
		return
	}
	fmt.Fprintf(stdout, "\n%d total\n", total)
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortTime(t string) string {
	if len(t) >= 19 {
		return t[:19]
	}
	return t
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
