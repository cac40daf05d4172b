package domain

import "time"

// Attempt is one complete request, extract, execute cycle. Immutable
// once recorded into a session's history.
type Attempt struct {
	Index              int           `json:"index"`
	RequestText        string        `json:"request_text"`
	RawResponse        string        `json:"raw_response,omitempty"`
	ExtractedCode      string        `json:"extracted_code,omitempty"`
	ExecutionSucceeded bool          `json:"execution_succeeded"`
	DiagnosticText     string        `json:"diagnostic_text,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}

// Failed reports whether the attempt ended in any failure stage.
func (a Attempt) Failed() bool {
	return !a.ExecutionSucceeded
}

// AttemptHistory is the ordered, append-only record of a session's
// attempts. Its length always equals the number of completed attempts.
type AttemptHistory []Attempt

// Len returns the number of completed attempts.
func (h AttemptHistory) Len() int { return len(h) }

// Last returns the most recent attempt, if any.
func (h AttemptHistory) Last() (Attempt, bool) {
	if len(h) == 0 {
		return Attempt{}, false
	}
	return h[len(h)-1], true
}
