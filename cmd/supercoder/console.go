package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/events"
)

// Styles for the interactive run feed: requests in cyan, generated code
// in blue, failures in red, the final verdict in green or red.
var (
	requestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	codeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// consoleSink renders session events as the interactive progress feed
// of the run command.
type consoleSink struct {
	out io.Writer
}

var _ events.Sink = (*consoleSink)(nil)

func newConsoleSink() *consoleSink {
	return &consoleSink{out: os.Stdout}
}

func (c *consoleSink) Publish(e events.Event) {
	switch e.Type {
	case events.TypeAttemptStarted:
		if e.Attempt > 1 {
			fmt.Fprintln(c.out, faintStyle.Render(fmt.Sprintf("--- attempt %d ---", e.Attempt)))
		}
	case events.TypeGenerationStarted:
		fmt.Fprintln(c.out, requestStyle.Render(e.Message))
	case events.TypeCodeExtracted:
		fmt.Fprintln(c.out, codeStyle.Render("Generated code:\n"+e.Code))
	case events.TypeAttemptFailed:
		fmt.Fprintln(c.out, errorStyle.Render(failureLine(e)))
	case events.TypeExecutionFinished:
		fmt.Fprintln(c.out, successStyle.Render("Code creation completed successfully!"))
	case events.TypeSessionFinished:
		c.finish(e)
	}
}

func (c *consoleSink) finish(e events.Event) {
	switch e.Outcome {
	case string(domain.OutcomeExhausted):
		fmt.Fprintln(c.out, errorStyle.Render(fmt.Sprintf("Code generation FAILED after %d attempts.", e.Attempt)))
	case string(domain.OutcomeFatalAbort):
		msg := e.Message
		if msg == "" {
			msg = "Session aborted."
		}
		fmt.Fprintln(c.out, errorStyle.Render(msg))
	}
}

// failureLine prefixes the diagnostic by the stage that broke.
// Extraction diagnostics already describe themselves.
func failureLine(e events.Event) string {
	switch e.FailureClass {
	case string(domain.FailureGeneration):
		return "OpenAI response error: " + e.Message
	case string(domain.FailureExecution):
		return "Error running generated code:\n" + e.Message
	default:
		return e.Message
	}
}
