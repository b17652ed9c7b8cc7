package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/open-edge-platform/os-package-reconciler/internal/history"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage/rpmutils"
	"github.com/open-edge-platform/os-package-reconciler/internal/reconcile"
)

var (
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")

	okStyle    = lipgloss.NewStyle().Foreground(green)
	failStyle  = lipgloss.NewStyle().Foreground(red)
	warnStyle  = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle = lipgloss.NewStyle().Foreground(dim)
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

func okMsg(format string, a ...any) string {
	return okStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func failMsg(format string, a ...any) string {
	return failStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func warnMsg(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

// actionLabel names what remediation does for a, telling upgrades from
// downgrades by rpm version order.
func actionLabel(a ospackage.Action) string {
	switch a.Kind {
	case ospackage.ActionMissing:
		return "install"
	case ospackage.ActionVersionMismatch:
		switch c := rpmutils.CompareEVRA(a.Have, a.Want); {
		case c < 0:
			return "upgrade"
		case c > 0:
			return "downgrade"
		default:
			return "replace"
		}
	case ospackage.ActionVerifyFailed:
		return "reinstall"
	case ospackage.ActionExtra:
		return "remove"
	default:
		return "unknown"
	}
}

// renderReport prints a pass report for a terminal.
func renderReport(w io.Writer, report *reconcile.PassReport) error {
	var b strings.Builder

	title := "Reconciliation pass " + report.ID
	if report.DryRun {
		title += " (dry run)"
	}
	b.WriteString(boldStyle.Render(title) + "\n")

	converged, modified := 0, 0
	for _, e := range report.Entries {
		switch {
		case e.Error != "":
			b.WriteString(failMsg("%s: %s", e.Name, e.Error) + "\n")
			continue
		case e.Converged:
			converged++
			line := okMsg("%s", e.Name)
			if e.Modified {
				modified++
				line += " " + mutedStyle.Render("(modified)")
			}
			b.WriteString(line + "\n")
			continue
		}
		b.WriteString(failMsg("%s", e.Name) + "\n")
		if e.QText != "" {
			b.WriteString("    " + mutedStyle.Render(strings.TrimSpace(e.QText)) + "\n")
		}
		for _, a := range e.Actions {
			fmt.Fprintf(&b, "    %-9s %s\n", actionLabel(a), reconcile.RenderTag(a))
		}
	}

	for _, a := range report.Anomalies {
		b.WriteString(warnMsg("%s", a) + "\n")
	}
	if len(report.ExtraPackages) > 0 {
		b.WriteString(warnMsg("unmanaged packages: %s", strings.Join(report.ExtraPackages, ", ")) + "\n")
	}
	for _, e := range report.Errors {
		b.WriteString(failMsg("%s", e) + "\n")
	}
	fmt.Fprintf(&b, "%d of %d package(s) converged, %d modified\n", converged, len(report.Entries), modified)

	_, err := io.WriteString(w, b.String())
	return err
}

// renderExtras prints installed packages absent from the document.
func renderExtras(w io.Writer, extras []*ospackage.DesiredEntry) error {
	var b strings.Builder
	if len(extras) == 0 {
		b.WriteString(okMsg("no unmanaged packages") + "\n")
	}
	for _, e := range extras {
		fmt.Fprintf(&b, "%s %s %s\n", warnMsg("%s", e.Name), mutedStyle.Render("["+e.Kind.String()+"]"), strings.TrimSpace(e.CurrentVersion))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func renderHistory(w io.Writer, passes []history.PassSummary) error {
	var b strings.Builder
	if len(passes) == 0 {
		b.WriteString(mutedStyle.Render("no recorded passes") + "\n")
	}
	for _, p := range passes {
		status := okMsg("converged")
		if !p.Converged {
			status = failMsg("%d error(s)", len(p.Errors))
		}
		mode := "apply"
		if p.DryRun {
			mode = "verify"
		}
		fmt.Fprintf(&b, "%s  %s  %-6s  %3d entries  %s\n",
			p.Started.Local().Format("2006-01-02 15:04:05"), p.ID, mode, p.Entries, status)
		if len(p.Modified) > 0 {
			b.WriteString("    " + mutedStyle.Render("modified: "+strings.Join(p.Modified, ", ")) + "\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func renderHistoryEntries(w io.Writer, passID string, entries []history.EntryRecord) error {
	var b strings.Builder
	b.WriteString(boldStyle.Render("Pass "+passID) + "\n")
	for _, e := range entries {
		line := okMsg("%s", e.Name)
		if !e.Converged {
			line = failMsg("%s", e.Name)
		}
		if len(e.Actions) > 0 {
			line += " " + strings.Join(e.Actions, " ")
		}
		if e.Error != "" {
			line += " " + failStyle.Render(e.Error)
		}
		b.WriteString(line + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
