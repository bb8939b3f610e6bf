package diagnose

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of parsing a model reply. It is exactly one of
// [Diagnosis] or [ParseFailure].
type Result interface {
	isResult()
}

// Diagnosis is a successfully structured model reply.
type Diagnosis struct {
	// Cause is the model's assessment of the likely root cause.
	Cause string `json:"cause"`

	// Steps are the ordered repair instructions.
	Steps []string `json:"steps"`

	// Script is an optional repair script. Empty when the model did not
	// propose one.
	Script string `json:"script"`
}

func (Diagnosis) isResult() {}

// ParseFailure carries a reply that could not be turned into a Diagnosis.
// The raw text is preserved so callers can surface it verbatim rather than
// inventing a diagnosis the model never gave.
type ParseFailure struct {
	Raw string
}

func (ParseFailure) isResult() {}

// Parse turns a raw model reply into a Result. It first attempts strict JSON
// (the format the prompt requests), then falls back to scanning labelled
// sections and fenced code blocks. A reply that yields neither a cause nor
// any steps becomes a ParseFailure.
func Parse(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParseFailure{Raw: raw}
	}

	if d, ok := parseJSON(trimmed); ok {
		return d
	}
	if d, ok := parseSections(trimmed); ok {
		return d
	}
	return ParseFailure{Raw: raw}
}

// parseJSON attempts to decode the reply as the requested JSON object.
// Models often wrap JSON in a markdown fence even when asked not to, so a
// leading fence is stripped first.
func parseJSON(s string) (Diagnosis, bool) {
	s = stripFence(s)
	if !strings.HasPrefix(s, "{") {
		return Diagnosis{}, false
	}

	var d Diagnosis
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Diagnosis{}, false
	}
	d.Cause = strings.TrimSpace(d.Cause)
	d.Script = strings.TrimSpace(d.Script)
	if d.Cause == "" && len(d.Steps) == 0 {
		return Diagnosis{}, false
	}
	return d, true
}

// parseSections scans a free-form reply for labelled sections. The model
// sometimes answers in prose with "Cause:", "Steps:" and a fenced script
// despite the JSON instruction.
func parseSections(s string) (Diagnosis, bool) {
	var (
		d       Diagnosis
		section string
		script  strings.Builder
	)

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "cause:") || strings.HasPrefix(lower, "diagnosis:"):
			section = "cause"
			if _, rest, ok := strings.Cut(line, ":"); ok {
				d.Cause = strings.TrimSpace(rest)
			}
		case strings.HasPrefix(lower, "steps:") || strings.HasPrefix(lower, "instructions:"):
			section = "steps"
		case strings.HasPrefix(lower, "script:") || strings.HasPrefix(lower, "code:"):
			section = "script"
		case strings.HasPrefix(line, "```"):
			// Fenced blocks belong to the script regardless of section labels.
			if section == "fence" {
				section = "script"
			} else {
				section = "fence"
			}
		case section == "fence":
			script.WriteString(line)
			script.WriteString("\n")
		case section == "cause":
			d.Cause += " " + line
		case section == "steps" && isListItem(line):
			d.Steps = append(d.Steps, strings.TrimLeft(line, "-*0123456789. "))
		case section == "script":
			script.WriteString(line)
			script.WriteString("\n")
		}
	}

	d.Cause = strings.TrimSpace(d.Cause)
	d.Script = strings.TrimSpace(script.String())
	if d.Cause == "" && len(d.Steps) == 0 {
		return Diagnosis{}, false
	}
	return d, true
}

func isListItem(line string) bool {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return true
	}
	return len(line) > 1 && line[0] >= '0' && line[0] <= '9' && (line[1] == '.' || line[1] == ')')
}

// stripFence removes a surrounding markdown code fence, if any, including an
// optional language tag on the opening line.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		return s
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
