// Package prompt builds the request texts sent to the generation
// service.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ashureev/supercoder/internal/extract"
)

// Composer renders the fixed system instruction plus the initial and
// feedback user messages for one session's target language.
type Composer struct {
	language string
}

// NewComposer builds a composer for a target language identifier
// such as "python" or "lua".
func NewComposer(language string) *Composer {
	return &Composer{language: displayName(language)}
}

// System returns the fixed system instruction. It pins the three
// protocol requirements: code only, at least five assert-based test
// cases, and exact delimiter wrapping.
func (c *Composer) System() string {
	return fmt.Sprintf(
		"You are a %[1]s developer. Output ONLY %[1]s code.\n"+
			"Include assert-based tests (at least 5 different test cases).\n"+
			"Wrap the FULL code between %[2]s markers like:\n"+
			"%[2]s\n<code>\n%[2]s\n"+
			"Do not add explanations or extra text.",
		c.language, extract.Delimiter)
}

// Initial renders the first request for a program description.
func (c *Composer) Initial(description string) string {
	return fmt.Sprintf(
		"Write this program in %s: %s\n"+
			"Include assert tests with 5 different inputs.\n"+
			"Wrap code with %s.",
		c.language, description, extract.Delimiter)
}

// Feedback renders a retry request. The previous diagnostic and the
// previously extracted code are embedded verbatim and untruncated so
// the service conditions on the exact failure context. lastCode may
// be empty when no attempt has extracted code yet.
func (c *Composer) Feedback(lastDiagnostic, lastCode string) string {
	return fmt.Sprintf(
		"I ran your previous code and got an error.\n\n"+
			"ERROR:\n%s\n\n"+
			"CODE I RAN:\n%s\n\n"+
			"Please return the FULL fixed code with assert tests.\n"+
			"Remember: wrap code with %s.",
		lastDiagnostic, lastCode, extract.Delimiter)
}

func displayName(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "lua":
		return "Lua"
	case "python", "":
		return "Python"
	default:
		lang := strings.TrimSpace(language)
		return strings.ToUpper(lang[:1]) + lang[1:]
	}
}
