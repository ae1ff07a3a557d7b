package cli

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

const tablePadding = 2

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// writeTable prints rows in aligned columns. Widths are measured in display
// cells with ANSI styling ignored, so styled cells line up.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	cols := len(headers)
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for i, cell := range row {
			widths[i] = max(widths[i], displayWidth(cell))
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	w := bufio.NewWriter(out)
	writeRow := func(row []string) {
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			w.WriteString(cell)
			if i < cols-1 {
				w.WriteString(strings.Repeat(" ", widths[i]-displayWidth(cell)+tablePadding))
			}
		}
		w.WriteString("\n")
	}

	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		writeRow(row)
	}
	return w.Flush()
}

func displayWidth(value string) int {
	return runewidth.StringWidth(stripANSI(value))
}

func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	return ansiPattern.ReplaceAllString(value, "")
}
