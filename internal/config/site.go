// internal/config/site.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// StepAction enumerates the interaction kinds a pre-action step may perform.
// The two wait kinds perform no action themselves; they are barriers between
// destructive steps.
type StepAction string

const (
	StepClick       StepAction = "click"
	StepDoubleClick StepAction = "dblclick"
	StepWaitHidden  StepAction = "wait_hidden"
	StepWaitVisible StepAction = "wait_visible"
)

// knownStepActions guards config validation.
var knownStepActions = map[StepAction]bool{
	StepClick:       true,
	StepDoubleClick: true,
	StepWaitHidden:  true,
	StepWaitVisible: true,
}

// ScreenshotMode selects full-page capture or a single element's bounding box.
type ScreenshotMode string

const (
	ScreenshotFull    ScreenshotMode = "full"
	ScreenshotElement ScreenshotMode = "element"
)

// PreActionStep is one interaction executed before a target is captured.
// Fallbacks are semantically equivalent ways to find the same element; they
// exist so a config survives markup drift between vendor firmware releases.
type PreActionStep struct {
	Selector    string     `json:"selector"`
	Fallbacks   []string   `json:"fallbacks,omitempty"`
	Action      StepAction `json:"action"`
	Index       int        `json:"index,omitempty"`
	WaitAfterMs int        `json:"wait_after_ms,omitempty"`
	// Comment is documentation only; the engine never interprets it.
	Comment string `json:"comment,omitempty"`
}

// Candidates returns the ordered selector candidate list (primary first).
func (s PreActionStep) Candidates() []string {
	out := make([]string, 0, 1+len(s.Fallbacks))
	out = append(out, s.Selector)
	out = append(out, s.Fallbacks...)
	return out
}

// WaitAfter converts the configured post-action pause to a duration.
func (s PreActionStep) WaitAfter() time.Duration {
	return time.Duration(s.WaitAfterMs) * time.Millisecond
}

// ScreenshotSpec configures how a target's screenshot is taken.
type ScreenshotSpec struct {
	Mode     ScreenshotMode `json:"mode,omitempty"`
	Selector string         `json:"selector,omitempty"`
}

// TargetSpec is one capture unit: a page or view to navigate to, settle, and
// record.
type TargetSpec struct {
	Name                  string          `json:"name"`
	URL                   string          `json:"url"`
	RootSelector          string          `json:"root_selector,omitempty"`
	RootSelectorFallbacks []string        `json:"root_selector_fallbacks,omitempty"`
	SettleMs              int             `json:"settle_ms,omitempty"`
	Screenshot            ScreenshotSpec  `json:"screenshot,omitempty"`
	Steps                 []PreActionStep `json:"steps,omitempty"`
	// PreferStepURL controls whether a URL change caused by a pre-action
	// step replaces the configured URL in bookkeeping and metadata.
	// Nil means true (trust the post-step URL).
	PreferStepURL *bool `json:"prefer_step_url,omitempty"`
}

// RootCandidates returns the ordered root selector candidates, defaulting to
// "body" when the config names none.
func (t TargetSpec) RootCandidates() []string {
	root := t.RootSelector
	if root == "" {
		root = "body"
	}
	out := make([]string, 0, 1+len(t.RootSelectorFallbacks))
	out = append(out, root)
	out = append(out, t.RootSelectorFallbacks...)
	return out
}

// Settle returns the per-target settle duration, or fallback when unset.
func (t TargetSpec) Settle(fallback time.Duration) time.Duration {
	if t.SettleMs > 0 {
		return time.Duration(t.SettleMs) * time.Millisecond
	}
	return fallback
}

// TrustStepURL reports whether a post-step URL change should be adopted.
func (t TargetSpec) TrustStepURL() bool {
	return t.PreferStepURL == nil || *t.PreferStepURL
}

// LoginConfig holds the credential pair and the selector set the adaptive
// login sequence drives. Each selector carries an ordered fallback list.
type LoginConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`

	UserSelector            string   `json:"user_selector"`
	UserSelectorFallbacks   []string `json:"user_selector_fallbacks,omitempty"`
	PassSelector            string   `json:"pass_selector"`
	PassSelectorFallbacks   []string `json:"pass_selector_fallbacks,omitempty"`
	SubmitSelector          string   `json:"submit_selector"`
	SubmitSelectorFallbacks []string `json:"submit_selector_fallbacks,omitempty"`
	SuccessSelector         string   `json:"success_selector"`

	// Attempts is the retry budget for the whole login sequence.
	Attempts int `json:"attempts,omitempty"`
	// PostLoginWaitMs is an extra pause after the success selector appears,
	// for dashboards that keep loading after authentication.
	PostLoginWaitMs int `json:"post_login_wait_ms,omitempty"`
}

func candidates(primary string, fallbacks []string) []string {
	out := make([]string, 0, 1+len(fallbacks))
	out = append(out, primary)
	out = append(out, fallbacks...)
	return out
}

// UserCandidates returns the username field selector candidates in order.
func (l LoginConfig) UserCandidates() []string {
	return candidates(l.UserSelector, l.UserSelectorFallbacks)
}

// PassCandidates returns the password field selector candidates in order.
func (l LoginConfig) PassCandidates() []string {
	return candidates(l.PassSelector, l.PassSelectorFallbacks)
}

// SubmitCandidates returns the submit control selector candidates in order.
func (l LoginConfig) SubmitCandidates() []string {
	return candidates(l.SubmitSelector, l.SubmitSelectorFallbacks)
}

// AttemptBudget returns the configured attempt count, minimum one.
func (l LoginConfig) AttemptBudget() int {
	if l.Attempts > 0 {
		return l.Attempts
	}
	return 1
}

// PostLoginWait converts the post-login pause to a duration.
func (l LoginConfig) PostLoginWait() time.Duration {
	return time.Duration(l.PostLoginWaitMs) * time.Millisecond
}

// Viewport is the emulated browser window size for the run.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

/// SiteConfig is the immutable per-run configuration: one site, one login,
// an ordered list of targets. It is pure data; all vendor-specific knowledge
// lives here, never in code paths.
type SiteConfig struct {
	Name              string      `json:"name"`
	BaseURL           string      `json:"base_url"`
	IgnoreHTTPSErrors bool        `json:"ignore_https_errors,omitempty"`
	Viewport          Viewport    `json:"viewport,omitempty"`
	Login             LoginConfig `json:"login"`
	Targets           []TargetSpec `json:"watch"`
}

// LoadSiteConfig reads, resolves, and validates a site config JSON file.
// Credential placeholders are resolved against the process environment here,
// so the engine only ever sees literal values.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site config %s: %w", path, err)
	}
	var cfg SiteConfig
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse site config %s: %w", path, err)
	}
	cfg.Login.Username, err = ResolveCredential(cfg.Login.Username)
	if err != nil {
		return nil, fmt.Errorf("site config %s: username: %w", path, err)
	}
	cfg.Login.Password, err = ResolveCredential(cfg.Login.Password)
	if err != nil {
		return nil, fmt.Errorf("site config %s: password: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid site config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveCredential expands "${VAR}" or "env:VAR" placeholders against the
// process environment. Literal values pass through untouched. A placeholder
// that names an unset variable is an error: silently logging in with an empty
// password would mask a deployment mistake.
func ResolveCredential(value string) (string, error) {
	var name string
	switch {
	case strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}"):
		name = value[2 : len(value)-1]
	case strings.HasPrefix(value, "env:"):
		name = strings.TrimPrefix(value, "env:")
	default:
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("empty environment placeholder %q", value)
	}
	resolved, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return resolved, nil
}

// pathSafe reports whether a name is usable verbatim as a path segment.
func pathSafe(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ' ':
		default:
			return false
		}
	}
	return name != "." && name != ".."
}

// Validate checks the structural invariants the engine relies on.
func (c *SiteConfig) Validate() error {
	if !pathSafe(c.Name) {
		return fmt.Errorf("site name %q must be non-empty and path-safe", c.Name)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Login.UserSelector == "" || c.Login.PassSelector == "" ||
		c.Login.SubmitSelector == "" || c.Login.SuccessSelector == "" {
		return fmt.Errorf("login requires user_selector, pass_selector, submit_selector and success_selector")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("watch must list at least one target")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if !pathSafe(t.Name) {
			return fmt.Errorf("watch[%d]: target name %q must be non-empty and path-safe", i, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("watch[%d]: duplicate target name %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.URL == "" {
			return fmt.Errorf("watch[%d] (%s): url is required", i, t.Name)
		}
		if t.Screenshot.Mode == ScreenshotElement && t.Screenshot.Selector == "" {
			return fmt.Errorf("watch[%d] (%s): screenshot mode %q requires a selector", i, t.Name, ScreenshotElement)
		}
		if t.Screenshot.Mode != "" && t.Screenshot.Mode != ScreenshotFull && t.Screenshot.Mode != ScreenshotElement {
			return fmt.Errorf("watch[%d] (%s): unknown screenshot mode %q", i, t.Name, t.Screenshot.Mode)
		}
		for j, step := range t.Steps {
			if step.Selector == "" {
				return fmt.Errorf("watch[%d] (%s) step[%d]: selector is required", i, t.Name, j)
			}
			if !knownStepActions[step.Action] {
				return fmt.Errorf("watch[%d] (%s) step[%d]: unknown action %q", i, t.Name, j, step.Action)
			}
			if step.Index < 0 {
				return fmt.Errorf("watch[%d] (%s) step[%d]: index must not be negative", i, t.Name, j)
			}
		}
	}
	return nil
}
