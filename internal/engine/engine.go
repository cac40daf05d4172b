// Package engine drives the bounded generate, extract, execute retry
// loop for one session at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/events"
	"github.com/ashureev/supercoder/internal/extract"
	"github.com/ashureev/supercoder/internal/llm"
	"github.com/ashureev/supercoder/internal/metrics"
	"github.com/ashureev/supercoder/internal/prompt"
	"github.com/ashureev/supercoder/internal/runner"
	"github.com/ashureev/supercoder/internal/transcript"
)

// ErrExhausted is returned by Run when every attempt in the budget
// failed and the session ended in exhausted_failure.
var ErrExhausted = errors.New("all attempts failed")

// Artifact persists extracted code to disk around execution. The
// artifact is written before every run and removed after every failed
// run, so a file exists on disk only while code is executing or after
// a session succeeded.
type Artifact interface {
	Path() string
	Write(code string) error
	Remove() error
	Finalize(ctx context.Context)
}

// Saver persists session snapshots. Save failures are logged and do
// not interrupt the retry loop.
type Saver interface {
	SaveSession(ctx context.Context, s *domain.Session) error
}

// Options carries the optional collaborators of an Engine. Any field
// may be left nil.
type Options struct {
	Sink       events.Sink
	Saver      Saver
	Transcript *transcript.Logger
	Logger     *slog.Logger
}

// Engine runs sessions. It owns no session state itself; everything a
// run produces lands in the session passed to Run.
type Engine struct {
	gen        llm.Generator
	runner     runner.Runner
	artifact   Artifact
	composer   *prompt.Composer
	sink       events.Sink
	saver      Saver
	transcript *transcript.Logger
	logger     *slog.Logger
}

// New assembles an engine from its collaborators.
func New(gen llm.Generator, run runner.Runner, art Artifact, composer *prompt.Composer, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gen:        gen,
		runner:     run,
		artifact:   art,
		composer:   composer,
		sink:       opts.Sink,
		saver:      opts.Saver,
		transcript: opts.Transcript,
		logger:     logger,
	}
}

// Run drives one session from init to a terminal state. It returns nil
// when an attempt's code executed cleanly, ErrExhausted when the whole
// budget failed, and the fatal classification when the session aborted
// early. The session is always terminal when Run returns, and its
// history length equals the number of completed attempts.
func (e *Engine) Run(ctx context.Context, s *domain.Session) error {
	if s.State.Terminal() {
		return domain.ErrSessionFinished
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = domain.DefaultMaxAttempts
	}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	e.publish(events.Event{SessionID: s.ID, Type: events.TypeSessionStarted, Message: s.Description})
	e.save(ctx, s)
	e.logger.Info("Session started",
		"session_id", s.ID, "language", s.Language, "executor", e.runner.Name(), "max_attempts", s.MaxAttempts)

	system := e.composer.System()
	var lastClass domain.FailureClass

	for !s.BudgetExhausted() {
		if ctx.Err() != nil {
			return e.cancel(ctx, s, lastClass)
		}

		index := s.AttemptsUsed() + 1
		started := time.Now()
		attempt := domain.Attempt{Index: index, StartedAt: started.UTC()}

		if last, ok := s.LastAttempt(); ok {
			attempt.RequestText = e.composer.Feedback(last.DiagnosticText, s.LastExtractedCode())
		} else {
			attempt.RequestText = e.composer.Initial(s.Description)
		}
		e.publish(events.Event{SessionID: s.ID, Type: events.TypeAttemptStarted, Attempt: index})
		metrics.AttemptsTotal.Inc()

		s.State = domain.StateRequesting
		e.publish(events.Event{SessionID: s.ID, Type: events.TypeGenerationStarted, Attempt: index, Message: attempt.RequestText})
		e.logExchange(s, index, "outbound", "generation_request", attempt.RequestText)

		genStart := time.Now()
		raw, err := e.gen.Generate(ctx, llm.Request{System: system, User: attempt.RequestText})
		metrics.GenerationDuration.Observe(time.Since(genStart).Seconds())
		if err != nil {
			cerr := classified(domain.FailureGeneration, err)
			attempt.DiagnosticText = cerr.Diagnostic()
			attempt.Duration = time.Since(started)
			lastClass = cerr.Class
			e.record(ctx, s, attempt)
			if cerr.Fatal {
				return e.abort(ctx, s, cerr)
			}
			e.failAttempt(s, index, cerr.Class, attempt.DiagnosticText)
			continue
		}
		attempt.RawResponse = raw
		e.publish(events.Event{SessionID: s.ID, Type: events.TypeGenerationFinished, Attempt: index})
		e.logExchange(s, index, "inbound", "generation_response", raw)

		s.State = domain.StateExtracting
		code, err := extract.Extract(raw)
		if err != nil {
			cerr := classified(domain.FailureExtraction, err)
			attempt.DiagnosticText = cerr.Diagnostic()
			attempt.Duration = time.Since(started)
			lastClass = cerr.Class
			e.record(ctx, s, attempt)
			e.failAttempt(s, index, cerr.Class, attempt.DiagnosticText)
			continue
		}
		attempt.ExtractedCode = code
		e.publish(events.Event{SessionID: s.ID, Type: events.TypeCodeExtracted, Attempt: index, Code: code})

		s.State = domain.StateExecuting
		e.publish(events.Event{SessionID: s.ID, Type: events.TypeExecutionStarted, Attempt: index})
		result, runErr := e.execute(ctx, code)
		if runErr != nil || !result.Succeeded {
			if runErr != nil {
				attempt.DiagnosticText = runErr.Error()
			} else {
				attempt.DiagnosticText = result.Diagnostic
			}
			attempt.Duration = time.Since(started)
			lastClass = domain.FailureExecution
			e.record(ctx, s, attempt)
			e.logExchange(s, index, "internal", "execution_diagnostic", attempt.DiagnosticText)
			e.failAttempt(s, index, domain.FailureExecution, attempt.DiagnosticText)
			continue
		}

		attempt.ExecutionSucceeded = true
		attempt.Duration = time.Since(started)
		e.record(ctx, s, attempt)
		return e.succeed(ctx, s, code, index)
	}

	return e.exhaust(ctx, s, lastClass)
}

// execute writes the artifact, runs it, and removes it again when the
// run failed. The artifact survives on disk only after a clean run.
func (e *Engine) execute(ctx context.Context, code string) (runner.Result, error) {
	if err := e.artifact.Write(code); err != nil {
		return runner.Result{}, fmt.Errorf("write artifact %s: %w", e.artifact.Path(), err)
	}
	execStart := time.Now()
	result, err := e.runner.Run(ctx, e.artifact.Path(), code)
	metrics.ExecutionDuration.Observe(time.Since(execStart).Seconds())
	if err != nil || !result.Succeeded {
		if rmErr := e.artifact.Remove(); rmErr != nil {
			e.logger.Warn("Failed to remove artifact after failed run", "error", rmErr)
		}
	}
	return result, err
}

func (e *Engine) succeed(ctx context.Context, s *domain.Session, code string, index int) error {
	s.FinalCode = code
	if err := s.Finish(domain.OutcomeSuccess, ""); err != nil {
		return err
	}
	e.artifact.Finalize(ctx)
	metrics.SessionsTotal.WithLabelValues(string(domain.OutcomeSuccess)).Inc()
	e.publish(events.Event{SessionID: s.ID, Type: events.TypeExecutionFinished, Attempt: index, Message: "execution succeeded"})
	e.publish(events.Event{SessionID: s.ID, Type: events.TypeSessionFinished, Attempt: index, Outcome: string(domain.OutcomeSuccess)})
	e.save(ctx, s)
	e.logger.Info("Session succeeded", "session_id", s.ID, "attempts", s.AttemptsUsed(), "artifact", e.artifact.Path())
	return nil
}

func (e *Engine) exhaust(ctx context.Context, s *domain.Session, class domain.FailureClass) error {
	if err := s.Finish(domain.OutcomeExhausted, class); err != nil {
		return err
	}
	metrics.SessionsTotal.WithLabelValues(string(domain.OutcomeExhausted)).Inc()
	e.publish(events.Event{
		SessionID:    s.ID,
		Type:         events.TypeSessionFinished,
		Attempt:      s.AttemptsUsed(),
		Outcome:      string(domain.OutcomeExhausted),
		FailureClass: string(class),
	})
	e.save(ctx, s)
	e.logger.Warn("Session exhausted its attempt budget",
		"session_id", s.ID, "attempts", s.AttemptsUsed(), "last_failure", class)
	return fmt.Errorf("%w after %d attempts", ErrExhausted, s.AttemptsUsed())
}

func (e *Engine) abort(ctx context.Context, s *domain.Session, cerr *domain.ClassifiedError) error {
	if err := s.Finish(domain.OutcomeFatalAbort, cerr.Class); err != nil {
		return err
	}
	metrics.SessionsTotal.WithLabelValues(string(domain.OutcomeFatalAbort)).Inc()
	e.publish(events.Event{
		SessionID:    s.ID,
		Type:         events.TypeSessionFinished,
		Attempt:      s.AttemptsUsed(),
		Outcome:      string(domain.OutcomeFatalAbort),
		FailureClass: string(cerr.Class),
		Message:      cerr.Remediation,
	})
	e.save(ctx, s)
	e.logger.Error("Session aborted",
		"session_id", s.ID, "class", cerr.Class, "error", cerr.Err)
	return cerr
}

// cancel ends the session when its context is done before the loop
// reached a verdict. The taxonomy has no class for operator
// cancellation, so the session keeps the class of its last failure.
func (e *Engine) cancel(ctx context.Context, s *domain.Session, class domain.FailureClass) error {
	if err := s.Finish(domain.OutcomeFatalAbort, class); err != nil {
		return err
	}
	metrics.SessionsTotal.WithLabelValues(string(domain.OutcomeFatalAbort)).Inc()
	e.publish(events.Event{
		SessionID:    s.ID,
		Type:         events.TypeSessionFinished,
		Attempt:      s.AttemptsUsed(),
		Outcome:      string(domain.OutcomeFatalAbort),
		FailureClass: string(class),
		Message:      "session canceled",
	})
	e.save(context.WithoutCancel(ctx), s)
	e.logger.Info("Session canceled", "session_id", s.ID, "attempts", s.AttemptsUsed())
	return fmt.Errorf("session canceled: %w", context.Cause(ctx))
}

func (e *Engine) record(ctx context.Context, s *domain.Session, a domain.Attempt) {
	if err := s.Record(a); err != nil {
		e.logger.Error("Failed to record attempt", "session_id", s.ID, "attempt", a.Index, "error", err)
		return
	}
	e.save(ctx, s)
}

func (e *Engine) failAttempt(s *domain.Session, index int, class domain.FailureClass, diagnostic string) {
	e.publish(events.Event{
		SessionID:    s.ID,
		Type:         events.TypeAttemptFailed,
		Attempt:      index,
		FailureClass: string(class),
		Message:      diagnostic,
	})
	e.logger.Warn("Attempt failed",
		"session_id", s.ID, "attempt", index, "of", s.MaxAttempts, "class", class)
}

func (e *Engine) publish(ev events.Event) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ev)
}

func (e *Engine) save(ctx context.Context, s *domain.Session) {
	if e.saver == nil {
		return
	}
	if err := e.saver.SaveSession(ctx, s); err != nil {
		e.logger.Warn("Failed to persist session", "session_id", s.ID, "error", err)
	}
}

func (e *Engine) logExchange(s *domain.Session, attempt int, direction, kind, text string) {
	if e.transcript == nil {
		return
	}
	e.transcript.Log(transcript.Entry{
		UserID:     s.UserID,
		SessionID:  s.ID,
		Attempt:    attempt,
		Direction:  direction,
		Kind:       kind,
		ContentRaw: text,
	})
}

// classified normalizes err to a ClassifiedError, assigning fallback
// as the class for errors that arrive untagged.
func classified(fallback domain.FailureClass, err error) *domain.ClassifiedError {
	if cerr, ok := domain.Classify(err); ok {
		return cerr
	}
	return domain.RetryableError(fallback, err)
}
