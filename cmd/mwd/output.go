package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mailworks/mailworks/internal/ui"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

// styledOutput reports whether stdout is a terminal; piped output stays plain.
func styledOutput() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// style applies fn only when writing to a terminal.
func style(fn func(string) string, s string) string {
	if !styledOutput() {
		return s
	}
	return fn(s)
}

// renderTable prints rows with left-aligned columns and a muted header.
func renderTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}
	fmt.Println(style(ui.RenderMuted, line(headers)))
	for _, row := range rows {
		fmt.Println(line(row))
	}
}

// statusStyle colors a lifecycle or health state for terminal output.
func statusStyle(s string) string {
	if !styledOutput() {
		return s
	}
	switch s {
	case "completed", "healthy":
		return ui.RenderPass(s)
	case "failed", "unhealthy", "critical", "high":
		return ui.RenderFail(s)
	case "processing", "degraded", "medium":
		return ui.RenderWarn(s)
	default:
		return s
	}
}
