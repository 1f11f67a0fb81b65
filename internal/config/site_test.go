// internal/config/site_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSiteJSON() string {
	return `{
	"name": "plant-north",
	"base_url": "https://bas.local/login",
	"login": {
		"username": "operator",
		"password": "hunter2",
		"user_selector": "#user",
		"pass_selector": "#pass",
		"submit_selector": "#submit",
		"success_selector": "#dashboard",
		"attempts": 2
	},
	"watch": [
		{
			"name": "AHU-1",
			"url": "https://bas.local/ahu1",
			"root_selector": "#ahu-graphic",
			"settle_ms": 3000,
			"steps": [
				{"selector": "#tab-hvac", "action": "click", "wait_after_ms": 500}
			]
		},
		{
			"name": "chiller",
			"url": "https://bas.local/chiller",
			"screenshot": {"mode": "element", "selector": "#chiller-panel"}
		}
	]
}`
}

func writeSiteFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSiteConfig(t *testing.T) {
	cfg, err := LoadSiteConfig(writeSiteFile(t, validSiteJSON()))
	require.NoError(t, err)

	assert.Equal(t, "plant-north", cfg.Name)
	assert.Equal(t, 2, cfg.Login.AttemptBudget())
	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, []string{"#ahu-graphic"}, cfg.Targets[0].RootCandidates())
	assert.Equal(t, 3*time.Second, cfg.Targets[0].Settle(5*time.Second))
	assert.Equal(t, 500*time.Millisecond, cfg.Targets[0].Steps[0].WaitAfter())
	assert.Equal(t, ScreenshotElement, cfg.Targets[1].Screenshot.Mode)
}

func TestLoadSiteConfigRejectsUnknownFields(t *testing.T) {
	bad := `{"name": "x", "base_url": "https://x", "surprise": true}`
	_, err := LoadSiteConfig(writeSiteFile(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surprise")
}

func TestLoadSiteConfigResolvesCredentials(t *testing.T) {
	t.Setenv("BAS_USER", "svc-baswatch")
	t.Setenv("BAS_PASS", "s3cret")
	content := validSiteJSON()
	content = replaceOnce(content, `"username": "operator"`, `"username": "${BAS_USER}"`)
	content = replaceOnce(content, `"password": "hunter2"`, `"password": "env:BAS_PASS"`)

	cfg, err := LoadSiteConfig(writeSiteFile(t, content))
	require.NoError(t, err)
	assert.Equal(t, "svc-baswatch", cfg.Login.Username)
	assert.Equal(t, "s3cret", cfg.Login.Password)
}

func TestLoadSiteConfigUnsetCredentialVar(t *testing.T) {
	content := replaceOnce(validSiteJSON(), `"password": "hunter2"`, `"password": "${BASWATCH_MISSING_VAR}"`)
	_, err := LoadSiteConfig(writeSiteFile(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASWATCH_MISSING_VAR")
}

func TestResolveCredentialLiteralPassthrough(t *testing.T) {
	got, err := ResolveCredential("plain-password")
	require.NoError(t, err)
	assert.Equal(t, "plain-password", got)
}

func TestSiteConfigValidate(t *testing.T) {
	base := func() *SiteConfig {
		cfg, err := LoadSiteConfig(writeSiteFile(t, validSiteJSON()))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*SiteConfig)
		wantErr string
	}{
		{"empty site name", func(c *SiteConfig) { c.Name = "" }, "path-safe"},
		{"unsafe site name", func(c *SiteConfig) { c.Name = "../escape" }, "path-safe"},
		{"missing base url", func(c *SiteConfig) { c.BaseURL = "" }, "base_url"},
		{"missing login selector", func(c *SiteConfig) { c.Login.SubmitSelector = "" }, "login requires"},
		{"no targets", func(c *SiteConfig) { c.Targets = nil }, "at least one target"},
		{"duplicate target names", func(c *SiteConfig) { c.Targets[1].Name = c.Targets[0].Name }, "duplicate"},
		{"target without url", func(c *SiteConfig) { c.Targets[0].URL = "" }, "url is required"},
		{"element mode without selector", func(c *SiteConfig) { c.Targets[1].Screenshot.Selector = "" }, "requires a selector"},
		{"unknown screenshot mode", func(c *SiteConfig) { c.Targets[1].Screenshot.Mode = "thumbnail" }, "unknown screenshot mode"},
		{"unknown step action", func(c *SiteConfig) { c.Targets[0].Steps[0].Action = "hover" }, "unknown action"},
		{"negative step index", func(c *SiteConfig) { c.Targets[0].Steps[0].Index = -1 }, "index"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestTargetSpecDefaults(t *testing.T) {
	var target TargetSpec
	assert.Equal(t, []string{"body"}, target.RootCandidates())
	assert.Equal(t, 5*time.Second, target.Settle(5*time.Second))
	assert.True(t, target.TrustStepURL())

	off := false
	target.PreferStepURL = &off
	assert.False(t, target.TrustStepURL())
}

func TestLoginConfigCandidates(t *testing.T) {
	login := LoginConfig{
		UserSelector:          "#user",
		UserSelectorFallbacks: []string{"input[name=username]"},
		PassSelector:          "#pass",
		SubmitSelector:        "#submit",
	}
	assert.Equal(t, []string{"#user", "input[name=username]"}, login.UserCandidates())
	assert.Equal(t, []string{"#pass"}, login.PassCandidates())
	// Zero attempts still means one try.
	assert.Equal(t, 1, login.AttemptBudget())
}

func replaceOnce(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}
