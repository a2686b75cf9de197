// Package ui renders command output for the terminal: colored status words,
// short messages and tables.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// Banner is printed by long-running commands
const Banner = `
  _                _            _ _
 | |_ __ _ _ __ __| |_ __  ___ | (_)_ _  ___
 |  _/ _` + "`" + ` | '_ \ '_ \ || '_ \/ -_)| | | ' \/ -_)
  \__\__, | .__/ .__/_|| .__/\___||_|_|_||_\___|
     |___/|_|  |_|     |_|
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorEnabled is decided once from stdout
var colorEnabled = term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

// SetColor forces color output on or off
func SetColor(enabled bool) {
	colorEnabled = enabled
}

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(s string) string {
		if !colorEnabled {
			return s
		}
		return fmt.Sprintf(colorString, s)
	}
}

// PrintBanner prints the banner in cyan
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Cyan(Banner))
}

// Status colors a run or node status word
func Status(status string) string {
	switch status {
	case "succeeded":
		return Green(status)
	case "failed":
		return Red(status)
	case "blocked":
		return Yellow(status)
	default:
		return Dim(status)
	}
}

// PrintError prints an error message in red
func PrintError(w io.Writer, msg string, err error) {
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintln(w, Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, Yellow(msg))
}

// RenderTable renders rows under headers. Columns listed in rightAligned
// (zero-based) are right aligned, which suits counts.
func RenderTable(headers []string, rows [][]string, rightAligned ...int) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	right := make(map[int]bool, len(rightAligned))
	for _, i := range rightAligned {
		right[i] = true
	}
	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if right[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
