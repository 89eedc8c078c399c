package core

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// CheckStatus is the outcome of one startup check.
type CheckStatus int

const (
	CheckPassed CheckStatus = iota
	CheckWarning
	CheckFailed
)

// StartupCheck is one line of the startup summary.
type StartupCheck struct {
	Name   string
	Status CheckStatus
	Detail string
}

// PrintStartupSummary writes a colored summary of the startup checks and
// reports whether all of them passed (warnings count as passed).
//
// Example output:
//
//	━━━ bgstudio dev (commit unknown) ━━━
//	  ✓ Catalog - 2 models, 4 categories
//	  ! Workflow store - in-memory (REDIS_ADDR not set)
//	  ✓ Database - ./data/bgstudio.db
func PrintStartupSummary(w io.Writer, checks []StartupCheck) bool {
	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintf(w, "━━━ bgstudio %s ━━━\n", VersionInfo())

	ok := true
	dim := color.New(color.FgHiBlack)
	for _, check := range checks {
		var icon string
		var clr *color.Color
		switch check.Status {
		case CheckPassed:
			icon, clr = "✓", color.New(color.FgGreen)
		case CheckWarning:
			icon, clr = "!", color.New(color.FgYellow)
		default:
			icon, clr = "✗", color.New(color.FgRed)
			ok = false
		}
		clr.Fprintf(w, "  %s %s", icon, check.Name)
		if check.Detail != "" {
			dim.Fprintf(w, " - %s", check.Detail)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	return ok
}
