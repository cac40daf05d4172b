// Package domain contains core domain types for supercoder.
package domain

import (
	"errors"
	"time"
)

// SessionState identifies where a session currently is in the
// generate, extract, execute cycle.
type SessionState string

const (
	// StateInit is the state of a session before its first attempt.
	StateInit SessionState = "init"
	// StateRequesting means a generation request is in flight.
	StateRequesting SessionState = "requesting"
	// StateExtracting means a raw response is being parsed for code.
	StateExtracting SessionState = "extracting"
	// StateExecuting means extracted code is running.
	StateExecuting SessionState = "executing"
	// StateSuccess is terminal: an attempt's code ran cleanly.
	StateSuccess SessionState = "success"
	// StateExhaustedFailure is terminal: the attempt budget ran out.
	StateExhaustedFailure SessionState = "exhausted_failure"
	// StateFatalAbort is terminal: a fatal failure ended the session early.
	StateFatalAbort SessionState = "fatal_abort"
)

// Terminal returns true for the three end states.
func (s SessionState) Terminal() bool {
	return s == StateSuccess || s == StateExhaustedFailure || s == StateFatalAbort
}

// Outcome is the single terminal result of a session.
type Outcome string

const (
	// OutcomeSuccess means an attempt's code executed without error.
	OutcomeSuccess Outcome = "success"
	// OutcomeExhausted means every attempt in the budget failed.
	OutcomeExhausted Outcome = "exhausted_failure"
	// OutcomeFatalAbort means a fatal failure ended the session early.
	OutcomeFatalAbort Outcome = "fatal_abort"
)

// DefaultMaxAttempts is the attempt budget used when a session does
// not set its own.
const DefaultMaxAttempts = 5

// ErrSessionFinished is returned when a terminal session is asked to
// change state again. An outcome is assigned exactly once.
var ErrSessionFinished = errors.New("session already finished")

// ErrAttemptIndex is returned when an attempt is recorded out of order.
var ErrAttemptIndex = errors.New("attempt index out of order")

// Session is one bounded run of the retry loop for a single program
// description. It exclusively owns its attempt history.
type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	Description  string         `json:"description"`
	Language     string         `json:"language"`
	Executor     string         `json:"executor"`
	MaxAttempts  int            `json:"max_attempts"`
	State        SessionState   `json:"state"`
	Outcome      Outcome        `json:"outcome,omitempty"`
	FailureClass FailureClass   `json:"failure_class,omitempty"`
	History      AttemptHistory `json:"history,omitempty"`
	FinalCode    string         `json:"final_code,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NewSession builds a session in StateInit with an empty history.
func NewSession(id, userID, description, language, executor string, maxAttempts int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		UserID:      userID,
		Description: description,
		Language:    language,
		Executor:    executor,
		MaxAttempts: maxAttempts,
		State:       StateInit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Record appends a completed attempt. Attempts are immutable once
// recorded and must arrive in order: the attempt's index has to be
// exactly len(history)+1.
func (s *Session) Record(a Attempt) error {
	if s.State.Terminal() {
		return ErrSessionFinished
	}
	if a.Index != len(s.History)+1 {
		return ErrAttemptIndex
	}
	s.History = append(s.History, a)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Finish assigns the terminal outcome. It fails if the session is
// already terminal; the outcome is set exactly once.
func (s *Session) Finish(outcome Outcome, class FailureClass) error {
	if s.State.Terminal() {
		return ErrSessionFinished
	}
	now := time.Now().UTC()
	s.Outcome = outcome
	s.FailureClass = class
	s.CompletedAt = &now
	s.UpdatedAt = now
	switch outcome {
	case OutcomeSuccess:
		s.State = StateSuccess
	case OutcomeExhausted:
		s.State = StateExhaustedFailure
	case OutcomeFatalAbort:
		s.State = StateFatalAbort
	}
	return nil
}

// AttemptsUsed reports how many attempts have completed.
func (s *Session) AttemptsUsed() int {
	return len(s.History)
}

// BudgetExhausted reports whether another attempt may start.
func (s *Session) BudgetExhausted() bool {
	return len(s.History) >= s.MaxAttempts
}

// LastAttempt returns the most recently recorded attempt, if any.
func (s *Session) LastAttempt() (Attempt, bool) {
	if len(s.History) == 0 {
		return Attempt{}, false
	}
	return s.History[len(s.History)-1], true
}

// LastExtractedCode returns the code of the most recent attempt whose
// extraction succeeded, or "" when no attempt got that far. Feedback
// requests quote this code so the service sees what actually ran.
func (s *Session) LastExtractedCode() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].ExtractedCode != "" {
			return s.History[i].ExtractedCode
		}
	}
	return ""
}
