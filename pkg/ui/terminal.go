package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// Banner printed by the CLI on interactive runs
const Banner = `
  ┌─────────────────────────────────────────────┐
  │  R$  pricescraper                           │
  │      marketplace quotes + FIPE valuations   │
  └─────────────────────────────────────────────┘
`

var (
	Cyan   = colorize("\033[36m%s\033[0m")
	Yellow = colorize("\033[33m%s\033[0m")
	Red    = colorize("\033[31m%s\033[0m")
	Green  = colorize("\033[32m%s\033[0m")
	Dim    = colorize("\033[2m%s\033[0m")
)

// Out is where the Print helpers write
var Out io.Writer = os.Stdout

func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

func PrintBanner() {
	fmt.Fprint(Out, Cyan(Banner))
}

// PrintError prints msg in red, followed by the first arg when given
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(Out, Red(msg))
}

func PrintSuccess(msg string) {
	fmt.Fprintln(Out, Green(msg))
}

func PrintWarning(msg string) {
	fmt.Fprintln(Out, Yellow(msg))
}

// PrintInfo prints a "label: value" line
func PrintInfo(label string, value string) {
	fmt.Fprintf(Out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintCounters prints a map of counters sorted by name
func PrintCounters(title string, counters map[string]int) {
	fmt.Fprintln(Out, Dim(title))
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		PrintInfo("  "+k, fmt.Sprintf("%d", counters[k]))
	}
}
