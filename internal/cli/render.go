package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fixer-ai/fixer/internal/diagnose"
	"github.com/fixer-ai/fixer/internal/script"
)

const (
	colorBlue   = "12"
	colorGreen  = "10"
	colorYellow = "11"
	colorRed    = "9"
	colorGray   = "240"

	panelPaddingVertical   = 0
	panelPaddingHorizontal = 1
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorBlue))

	causeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorYellow))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorRed))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorGray)).
			Padding(panelPaddingVertical, panelPaddingHorizontal)

	scriptPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color(colorYellow)).
				Padding(panelPaddingVertical, panelPaddingHorizontal)
)

func renderWelcome() string {
	lines := []string{
		titleStyle.Render("Fixer AI"),
		"Describe a technical problem and I'll diagnose it.",
		"",
		"Commands: !screenshot  !webcam  !run  !exit",
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderResult(res diagnose.Result) string {
	switch r := res.(type) {
	case diagnose.Diagnosis:
		return renderDiagnosis(r)
	case diagnose.ParseFailure:
		return panelStyle.Render(strings.TrimSpace(r.Raw))
	default:
		return errStyle.Render("No result.")
	}
}

func renderDiagnosis(d diagnose.Diagnosis) string {
	var lines []string
	if d.Cause != "" {
		lines = append(lines, causeStyle.Render("Cause: ")+d.Cause)
	}
	if len(d.Steps) > 0 {
		lines = append(lines, "", titleStyle.Render("Steps"))
		for i, step := range d.Steps {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, step))
		}
	}
	out := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	if strings.TrimSpace(d.Script) != "" {
		out += "\n" + renderScript(d.Script, "Suggested script (run with !run)")
	}
	return out
}

func renderScript(body, title string) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		strings.TrimSpace(body),
	)
	return scriptPanelStyle.Render(content)
}

func renderRunResult(res *script.Result) string {
	status := fmt.Sprintf("exit code %d", res.ExitCode)
	if res.TimedOut {
		status = errStyle.Render("timed out")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Script result ("+status+")"),
		strings.TrimSpace(res.Output),
	)
	return panelStyle.Render(content)
}

func renderError(err error) string {
	return errStyle.Render("Error: " + err.Error())
}
