package sms

import (
	"fmt"
	"strings"

	"github.com/fixer-ai/fixer/internal/diagnose"
)

// maxBodyLen bounds a reply body. Twilio concatenates long messages up to
// 1600 characters; beyond that delivery fails outright.
const maxBodyLen = 1600

const scriptNotice = "A repair script is available but too long for SMS. Please use the CLI or voice interface to access it."

// FormatReply renders a diagnosis result as an SMS body.
func FormatReply(res diagnose.Result) string {
	switch r := res.(type) {
	case diagnose.Diagnosis:
		var parts []string
		if r.Cause != "" {
			parts = append(parts, "DIAGNOSIS: "+r.Cause)
		}
		if len(r.Steps) > 0 {
			var sb strings.Builder
			sb.WriteString("STEPS:\n")
			for i, step := range r.Steps {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
			}
			parts = append(parts, strings.TrimRight(sb.String(), "\n"))
		}
		if strings.TrimSpace(r.Script) != "" {
			parts = append(parts, scriptNotice)
		}
		return truncate(strings.Join(parts, "\n\n"))

	case diagnose.ParseFailure:
		return truncate(strings.TrimSpace(r.Raw))

	default:
		return "Sorry, an error occurred while processing your request."
	}
}

// Summary renders a diagnosis as a one-line text for conversation history.
func Summary(res diagnose.Result) string {
	switch r := res.(type) {
	case diagnose.Diagnosis:
		return strings.TrimSpace(r.Cause + " " + strings.Join(r.Steps, ". "))
	case diagnose.ParseFailure:
		return truncate(strings.TrimSpace(r.Raw))
	default:
		return ""
	}
}

func truncate(s string) string {
	if len(s) <= maxBodyLen {
		return s
	}
	return s[:maxBodyLen-3] + "…"
}
