// Package colors provides the palette of the flatten/crawl summaries.
//
// Colors are automatically disabled when stdout is not a terminal (piped or
// redirected to a file). Use Init() to override based on CLI flags.
package colors

import "github.com/fatih/color"

// Init allows overriding the auto-detected color setting:
//   - forceColor == nil: keep auto-detected value
//   - forceColor == true: force colors on (--color)
//   - forceColor == false: force colors off (--no-color)
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

// Header styles section titles ("Binaries", "Shared Cache")
func Header() *color.Color { return color.New(color.Bold, color.FgHiBlue) }

// Key styles the left column of a summary line
func Key() *color.Color { return color.New(color.Faint, color.FgWhite) }

// Path styles file system paths
func Path() *color.Color { return color.New(color.FgHiCyan) }

// Count styles numbers and sizes
func Count() *color.Color { return color.New(color.Bold, color.FgHiWhite) }

// Success styles a fully successful pass
func Success() *color.Color { return color.New(color.Bold, color.FgHiGreen) }

// Failure styles per-file failures
func Failure() *color.Color { return color.New(color.Bold, color.FgHiRed) }

// Skipped styles passes that did not run
func Skipped() *color.Color { return color.New(color.Italic, color.Faint, color.FgYellow) }
