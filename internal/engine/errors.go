// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/cfavre/baswatch/internal/config"
)

// Sentinel error kinds. Session-level kinds (ErrLoginFailed, a failed browser
// launch) abort the run; target-level kinds are recorded on the target's
// outcome and the run moves on.
var (
	ErrLoginFailed         = errors.New("login failed")
	ErrNavigationFailed    = errors.New("navigation failed")
	ErrTargetNotReady      = errors.New("target not ready")
	ErrStepFailed          = errors.New("pre-action step failed")
	ErrNoSelectorMatched   = errors.New("no selector candidate matched")
	ErrArtifactWriteFailed = errors.New("artifact write failed")
)

// LoginError carries the last observed page state when the attempt budget is
// exhausted, so a failed run is diagnosable from the log alone.
type LoginError struct {
	Attempts  int
	LastShape FormShape
	LastURL   string
	Err       error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed after %d attempt(s) (last form shape %s at %s): %v",
		e.Attempts, e.LastShape, e.LastURL, e.Err)
}

func (e *LoginError) Unwrap() error { return ErrLoginFailed }

// StepError names the offending pre-action step. Later steps are never
// attempted because UI state after a failed step is unpredictable.
type StepError struct {
	Index  int
	Action config.StepAction
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return ErrStepFailed }

// selectorError records the exhausted candidate list for diagnostics.
type selectorError struct {
	Candidates []string
	Want       MatchState
	Budget     time.Duration
}

func (e *selectorError) Error() string {
	return fmt.Sprintf("no candidate reached state %s within %s (tried %d selector(s): %v)",
		e.Want, e.Budget, len(e.Candidates), e.Candidates)
}

func (e *selectorError) Unwrap() error { return ErrNoSelectorMatched }
