// internal/engine/login_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfavre/baswatch/internal/config"
)

func testLoginConfig() config.LoginConfig {
	return config.LoginConfig{
		Username:        "operator",
		Password:        "hunter2",
		UserSelector:    "#user",
		PassSelector:    "#pass",
		SubmitSelector:  "#submit",
		SuccessSelector: "#dashboard",
		Attempts:        3,
	}
}

func newTestAuthenticator(page *fakePage) *Authenticator {
	resolver := NewResolver(page, time.Millisecond, testLogger())
	return NewAuthenticator(page, resolver, 2*time.Second, testLogger())
}

// loginSim models a login page whose visible elements change as the
// authenticator drives it.
type loginSim struct {
	mu      sync.Mutex
	visible map[string]bool
}

func newLoginSim(initial ...string) *loginSim {
	s := &loginSim{visible: make(map[string]bool)}
	for _, sel := range initial {
		s.visible[sel] = true
	}
	return s
}

func (s *loginSim) query(selector string) (ElementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible[selector] {
		return ElementState{Found: true, Visible: true, Enabled: true, Count: 1}, nil
	}
	return ElementState{}, nil
}

func (s *loginSim) set(selector string, on bool) {
	s.mu.Lock()
	s.visible[selector] = on
	s.mu.Unlock()
}

func TestAuthenticateBothFieldsSingleSubmit(t *testing.T) {
	sim := newLoginSim("#user", "#pass", "#submit")
	page := &fakePage{queryFn: sim.query}
	page.clickFn = func(selector string, _ int) error {
		if selector == "#submit" {
			sim.set("#user", false)
			sim.set("#pass", false)
			sim.set("#submit", false)
			sim.set("#dashboard", true)
		}
		return nil
	}

	auth := newTestAuthenticator(page)
	require.NoError(t, auth.Authenticate(context.Background(), testLoginConfig()))

	assert.Equal(t, []fillCall{{"#user", "operator"}, {"#pass", "hunter2"}}, page.fills)
	// Exactly one submit when both fields are visible together.
	assert.Equal(t, []clickCall{{"#submit", 0}}, page.clicks)
}

func TestAuthenticateStagedUsernameFirst(t *testing.T) {
	sim := newLoginSim("#user", "#submit")
	page := &fakePage{queryFn: sim.query}
	var submits int
	var mu sync.Mutex
	page.clickFn = func(selector string, _ int) error {
		if selector != "#submit" {
			return nil
		}
		mu.Lock()
		submits++
		n := submits
		mu.Unlock()
		switch n {
		case 1:
			// Username accepted: the password stage appears shortly after.
			go func() {
				time.Sleep(20 * time.Millisecond)
				sim.set("#user", false)
				sim.set("#pass", true)
			}()
		case 2:
			sim.set("#pass", false)
			sim.set("#submit", false)
			sim.set("#dashboard", true)
		}
		return nil
	}

	auth := newTestAuthenticator(page)
	require.NoError(t, auth.Authenticate(context.Background(), testLoginConfig()))

	assert.Equal(t, []fillCall{{"#user", "operator"}, {"#pass", "hunter2"}}, page.fills)
	assert.Len(t, page.clicks, 2)
}

func TestAuthenticatePasswordOnlyForm(t *testing.T) {
	sim := newLoginSim("#pass", "#submit")
	page := &fakePage{queryFn: sim.query}
	page.clickFn = func(selector string, _ int) error {
		if selector == "#submit" {
			sim.set("#pass", false)
			sim.set("#submit", false)
			sim.set("#dashboard", true)
		}
		return nil
	}

	auth := newTestAuthenticator(page)
	require.NoError(t, auth.Authenticate(context.Background(), testLoginConfig()))

	assert.Equal(t, []fillCall{{"#pass", "hunter2"}}, page.fills)
}

func TestAuthenticateAlreadyLoggedIn(t *testing.T) {
	// No form at all, success marker already present.
	page := &fakePage{queryFn: visibleSet("#dashboard")}
	auth := newTestAuthenticator(page)

	require.NoError(t, auth.Authenticate(context.Background(), testLoginConfig()))
	assert.Empty(t, page.fills)
	assert.Empty(t, page.clicks)
}

func TestAuthenticateAttemptBudgetExhausted(t *testing.T) {
	// Form stays up, success marker never appears.
	page := &fakePage{queryFn: visibleSet("#user", "#pass", "#submit")}
	page.urlFn = func() (string, error) { return "https://bas.local/login?err=1", nil }
	resolver := NewResolver(page, time.Millisecond, testLogger())
	auth := NewAuthenticator(page, resolver, 50*time.Millisecond, testLogger())

	cfg := testLoginConfig()
	cfg.Attempts = 2
	err := auth.Authenticate(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 2, lerr.Attempts)
	assert.Equal(t, ShapeBoth, lerr.LastShape)
	assert.Equal(t, "https://bas.local/login?err=1", lerr.LastURL)
	// One submit per attempt.
	assert.Len(t, page.clicks, 2)
}

func TestAuthenticateSecondAttemptSucceeds(t *testing.T) {
	sim := newLoginSim("#user", "#pass", "#submit")
	page := &fakePage{queryFn: sim.query}
	var submits int
	page.clickFn = func(selector string, _ int) error {
		if selector == "#submit" {
			submits++
			if submits == 2 {
				sim.set("#dashboard", true)
			}
		}
		return nil
	}
	resolver := NewResolver(page, time.Millisecond, testLogger())
	auth := NewAuthenticator(page, resolver, 50*time.Millisecond, testLogger())

	cfg := testLoginConfig()
	cfg.Attempts = 2
	require.NoError(t, auth.Authenticate(context.Background(), cfg))
	assert.Equal(t, 2, submits)
}

func TestAuthenticateStagedRetryAfterPasswordTimeout(t *testing.T) {
	// Staged form where the password stage never shows up on the first
	// attempt. The attempt times out waiting for it; the retry submits the
	// username again and this time the password stage appears.
	sim := newLoginSim("#user", "#submit")
	page := &fakePage{queryFn: sim.query}
	var submits int
	var mu sync.Mutex
	page.clickFn = func(selector string, _ int) error {
		if selector != "#submit" {
			return nil
		}
		mu.Lock()
		submits++
		n := submits
		mu.Unlock()
		switch n {
		case 1:
			// Swallowed: the password stage never appears.
		case 2:
			sim.set("#user", false)
			sim.set("#pass", true)
		case 3:
			sim.set("#pass", false)
			sim.set("#submit", false)
			sim.set("#dashboard", true)
		}
		return nil
	}
	resolver := NewResolver(page, time.Millisecond, testLogger())
	auth := NewAuthenticator(page, resolver, 50*time.Millisecond, testLogger())

	cfg := testLoginConfig()
	cfg.Attempts = 2
	require.NoError(t, auth.Authenticate(context.Background(), cfg))

	// Username filled once per attempt, password only on the second.
	assert.Equal(t, []fillCall{
		{"#user", "operator"},
		{"#user", "operator"},
		{"#pass", "hunter2"},
	}, page.fills)
	assert.Equal(t, 3, submits)
}

func TestAuthenticateReportsAttemptOnCancel(t *testing.T) {
	sim := newLoginSim("#user", "#pass", "#submit")
	page := &fakePage{queryFn: sim.query}
	page.clickFn = func(selector string, _ int) error {
		if selector == "#submit" {
			sim.set("#dashboard", true)
		}
		return nil
	}
	resolver := NewResolver(page, time.Millisecond, testLogger())
	auth := NewAuthenticator(page, resolver, 50*time.Millisecond, testLogger())

	cfg := testLoginConfig()
	cfg.Attempts = 3
	cfg.PostLoginWaitMs = 5000

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := auth.Authenticate(ctx, cfg)

	require.Error(t, err)
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	// Canceled during the post-login wait of the first attempt: the error
	// reports the attempt that was interrupted, not the whole budget.
	assert.Equal(t, 1, lerr.Attempts)
}

func TestAuthenticateFillErrorConsumesAttempt(t *testing.T) {
	page := &fakePage{
		queryFn: visibleSet("#user", "#pass", "#submit"),
		fillFn: func(string, string) error {
			return errors.New("node detached")
		},
	}
	resolver := NewResolver(page, time.Millisecond, testLogger())
	auth := NewAuthenticator(page, resolver, 30*time.Millisecond, testLogger())

	cfg := testLoginConfig()
	cfg.Attempts = 1
	err := auth.Authenticate(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestFormShapeString(t *testing.T) {
	assert.Equal(t, "both", ShapeBoth.String())
	assert.Equal(t, "user-only", ShapeUserOnly.String())
	assert.Equal(t, "pass-only", ShapePassOnly.String())
	assert.Equal(t, "neither", ShapeNeither.String())
}
