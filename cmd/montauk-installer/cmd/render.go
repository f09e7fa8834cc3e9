package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/oshokin/montauk-installer/internal/domain/kmod"
	"github.com/oshokin/montauk-installer/internal/service/installer"
)

//nolint:gochecknoglobals // Palette.
var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")

	accentStyle  = lipgloss.NewStyle().Foreground(purple)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	outputStyle  = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(faint).
			PaddingLeft(1)
)

func yesNo(v bool) string {
	if v {
		return successStyle.Render("yes")
	}

	return mutedStyle.Render("no")
}

// renderError prints the failing stage, the toolchain output and the remediation.
func renderError(w io.Writer, err error) {
	stageErr, ok := kmod.AsError(err)
	if !ok {
		_, _ = fmt.Fprintln(w, errorStyle.Render("✗")+" "+err.Error())
		return
	}

	_, _ = fmt.Fprintf(w, "%s %s failed: %s\n",
		errorStyle.Render("✗"),
		accentStyle.Render(string(stageErr.Stage)),
		stageErr.Reason,
	)

	if stageErr.Err != nil {
		_, _ = fmt.Fprintln(w, mutedStyle.Render("  cause: "+stageErr.Err.Error()))
	}

	if output := strings.TrimRight(stageErr.Output, "\n"); output != "" {
		_, _ = fmt.Fprintln(w, outputStyle.Render(output))
	}

	renderRemediation(w, stageErr.Remediation)
}

func renderRemediation(w io.Writer, steps []string) {
	if len(steps) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "  To fix it:")

	for _, step := range steps {
		_, _ = fmt.Fprintln(w, "    "+step)
	}
}

func renderWarning(w io.Writer, err error) {
	stageErr, ok := kmod.AsError(err)
	if !ok {
		_, _ = fmt.Fprintln(w, warnStyle.Render("!")+" "+err.Error())
		return
	}

	_, _ = fmt.Fprintf(w, "%s %s: %s\n", warnStyle.Render("!"), stageErr.Stage, stageErr.Reason)
	renderRemediation(w, stageErr.Remediation)
}

// renderReport prints warnings and the outcome of a workflow.
func renderReport(w io.Writer, report *installer.Report) {
	for _, warning := range report.Warnings {
		renderWarning(w, warning)
	}

	switch report.Command {
	case installer.CommandStatus:
		if report.Status != nil {
			_, _ = fmt.Fprintln(w, statusTable(report.Status))
		}
	case installer.CommandInstall:
		if report.InstalledBinary == "" {
			return
		}

		_, _ = fmt.Fprintln(w, successStyle.Render("✓")+" Installation complete, run: "+accentStyle.Render("montauk"))

		if report.Kernel {
			_, _ = fmt.Fprintln(w, "  Kernel module is loaded and will load on boot.")
			_, _ = fmt.Fprintln(w, warnStyle.Render("  Re-run this installer after kernel upgrades."))
		}
	case installer.CommandBuild:
		if report.Binary != "" {
			_, _ = fmt.Fprintln(w, successStyle.Render("✓")+" Built "+report.Binary)
		}
	case installer.CommandUninstall, installer.CommandClean, installer.CommandTest:
	}
}

func statusTable(status *installer.Status) string {
	var (
		headerStyle = lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
		cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	)

	autoload := yesNo(status.Record.AutoloadPresent)
	if status.Record.AutoloadPresent && strings.TrimSpace(status.Record.AutoloadContent) == "" {
		autoload = warnStyle.Render("empty")
	}

	consistency := successStyle.Render("consistent")
	if !status.Record.Consistent() {
		consistency = warnStyle.Render("partial, run uninstall or install")
	}

	rows := [][]string{
		{"kernel", status.Release.String()},
		{"headers", yesNo(status.HeadersPresent)},
		{"module", yesNo(status.Record.ArtifactPresent) + " " + mutedStyle.Render(status.Record.ArtifactPath)},
		{"autoload", autoload + " " + mutedStyle.Render(status.Record.AutoloadPath)},
		{"record", consistency},
		{"active", status.Active.String()},
		{"binary", yesNo(status.BinaryPresent) + " " + mutedStyle.Render(status.BinaryPath)},
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		}).
		Headers("item", "state").
		Rows(rows...)

	return t.String()
}
