// internal/engine/login.go
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/config"
)

// FormShape classifies which credential fields are visible on the current
// page. Vendor dashboards disagree on login flow: some show both fields at
// once, some reveal the password only after the username is submitted, and
// some drop the user straight onto the dashboard with no form at all.
type FormShape int

const (
	// ShapeNeither means no credential field is visible.
	ShapeNeither FormShape = iota
	// ShapeUserOnly means only the username field is visible (staged login).
	ShapeUserOnly
	// ShapePassOnly means only the password field is visible.
	ShapePassOnly
	// ShapeBoth means username and password fields are visible together.
	ShapeBoth
)

func (s FormShape) String() string {
	switch s {
	case ShapeBoth:
		return "both"
	case ShapeUserOnly:
		return "user-only"
	case ShapePassOnly:
		return "pass-only"
	default:
		return "neither"
	}
}

// Authenticator drives a login form to completion regardless of its shape.
type Authenticator struct {
	page     Page
	resolver *Resolver
	// probeBudget bounds one visibility probe of a single field.
	probeBudget time.Duration
	// timeout bounds the success check and the staged-form password wait.
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuthenticator builds an Authenticator over the given page.
func NewAuthenticator(page Page, resolver *Resolver, timeout time.Duration, logger *zap.Logger) *Authenticator {
	probe := timeout / 10
	if probe < 500*time.Millisecond {
		probe = 500 * time.Millisecond
	}
	return &Authenticator{
		page:        page,
		resolver:    resolver,
		probeBudget: probe,
		timeout:     timeout,
		logger:      logger,
	}
}

// Authenticate attempts to log in, re-probing the form shape before each
// attempt so staged flows are handled without configuration hints. It
// returns nil as soon as the success selector is satisfied. Exhausting the
// attempt budget yields a LoginError carrying the last observed shape.
func (a *Authenticator) Authenticate(ctx context.Context, login config.LoginConfig) error {
	budget := login.AttemptBudget()
	lastShape := ShapeNeither

	for attempt := 1; attempt <= budget; attempt++ {
		shape, userSel, passSel := a.probeShape(ctx, login)
		lastShape = shape
		a.logger.Info("Login attempt starting.",
			zap.Int("attempt", attempt),
			zap.Int("budget", budget),
			zap.Stringer("form_shape", shape))

		var err error
		switch shape {
		case ShapeBoth:
			err = a.submitBoth(ctx, login, userSel, passSel)
		case ShapeUserOnly:
			err = a.submitStaged(ctx, login, userSel)
		case ShapePassOnly:
			err = a.submitPassword(ctx, login, passSel)
		case ShapeNeither:
			// Nothing to fill. Either we are already in, or the page
			// has not produced a form; the success check decides.
		}
		if err != nil {
			a.logger.Warn("Login attempt failed to drive the form.",
				zap.Int("attempt", attempt), zap.Error(err))
		}

		if a.loginSucceeded(ctx, login) {
			if wait := login.PostLoginWait(); wait > 0 {
				if err := sleepCtx(ctx, wait); err != nil {
					return a.loginError(ctx, attempt, lastShape, err)
				}
			}
			a.logger.Info("Login succeeded.", zap.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return a.loginError(ctx, attempt, lastShape, ctx.Err())
		}
	}

	return a.loginError(ctx, budget, lastShape, errors.New("attempt budget exhausted"))
}

// probeShape checks field visibility with short independent budgets and
// returns the shape plus the concrete selectors that matched.
func (a *Authenticator) probeShape(ctx context.Context, login config.LoginConfig) (FormShape, string, string) {
	userSel, uErr := a.resolver.Resolve(ctx, login.UserCandidates(), MatchVisible, a.probeBudget)
	passSel, pErr := a.resolver.Resolve(ctx, login.PassCandidates(), MatchVisible, a.probeBudget)

	userVisible := uErr == nil
	passVisible := pErr == nil
	switch {
	case userVisible && passVisible:
		return ShapeBoth, userSel, passSel
	case userVisible:
		return ShapeUserOnly, userSel, ""
	case passVisible:
		return ShapePassOnly, "", passSel
	default:
		return ShapeNeither, "", ""
	}
}

// submitBoth fills both fields and submits exactly once.
func (a *Authenticator) submitBoth(ctx context.Context, login config.LoginConfig, userSel, passSel string) error {
	if err := a.page.Fill(ctx, userSel, login.Username); err != nil {
		return err
	}
	if err := a.page.Fill(ctx, passSel, login.Password); err != nil {
		return err
	}
	return a.submit(ctx, login)
}

// submitStaged handles username-first flows: submit the username, poll for
// the password field to appear, then finish with the password.
func (a *Authenticator) submitStaged(ctx context.Context, login config.LoginConfig, userSel string) error {
	if err := a.page.Fill(ctx, userSel, login.Username); err != nil {
		return err
	}
	if err := a.submit(ctx, login); err != nil {
		return err
	}
	passSel, err := a.resolver.Resolve(ctx, login.PassCandidates(), MatchVisible, a.timeout)
	if err != nil {
		return err
	}
	return a.submitPassword(ctx, login, passSel)
}

func (a *Authenticator) submitPassword(ctx context.Context, login config.LoginConfig, passSel string) error {
	if err := a.page.Fill(ctx, passSel, login.Password); err != nil {
		return err
	}
	return a.submit(ctx, login)
}

func (a *Authenticator) submit(ctx context.Context, login config.LoginConfig) error {
	sel, err := a.resolver.Resolve(ctx, login.SubmitCandidates(), MatchEnabled, a.probeBudget)
	if err != nil {
		return err
	}
	return a.page.Click(ctx, sel, 0)
}

// loginSucceeded waits for the configured success marker. Without one, a
// visible-form absence is the only signal we have.
func (a *Authenticator) loginSucceeded(ctx context.Context, login config.LoginConfig) bool {
	if login.SuccessSelector == "" {
		_, uErr := a.resolver.Resolve(ctx, login.UserCandidates(), MatchVisible, a.probeBudget)
		_, pErr := a.resolver.Resolve(ctx, login.PassCandidates(), MatchVisible, a.probeBudget)
		return uErr != nil && pErr != nil
	}
	_, err := a.resolver.Resolve(ctx, []string{login.SuccessSelector}, MatchVisible, a.timeout)
	return err == nil
}

func (a *Authenticator) loginError(ctx context.Context, attempts int, shape FormShape, cause error) error {
	url, urlErr := a.page.CurrentURL(ctx)
	if urlErr != nil {
		url = ""
	}
	return &LoginError{Attempts: attempts, LastShape: shape, LastURL: url, Err: cause}
}
