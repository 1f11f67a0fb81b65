// internal/engine/writer_test.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfavre/baswatch/internal/config"
)

func baseMeta(target config.TargetSpec) TargetMeta {
	sel := target.RootCandidates()[0]
	return TargetMeta{
		Target:          target.Name,
		ConfiguredURL:   target.URL,
		ResolvedURL:     target.URL,
		RunStartedAt:    time.Now().UTC().Format(time.RFC3339),
		Success:         true,
		MatchedSelector: &sel,
	}
}

func readMeta(t *testing.T, dir string) TargetMeta {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	require.NoError(t, err)
	var meta TargetMeta
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

func TestWriteFullArtifactSet(t *testing.T) {
	dir := t.TempDir()
	page := &fakePage{}
	w := NewCaptureWriter(page, testLogger())
	target := config.TargetSpec{Name: "ahu1", URL: "https://bas.local/ahu1", RootSelector: "#ahu"}

	require.NoError(t, w.Write(context.Background(), dir, target, baseMeta(target)))

	for _, f := range []string{"screenshot.png", "dom.json", "meta.json"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}
	meta := readMeta(t, dir)
	assert.True(t, meta.Success)
	assert.ElementsMatch(t, []string{"screenshot.png", "dom.json"}, meta.Artifacts)
	require.NotNil(t, meta.MatchedSelector)
	assert.Equal(t, "#ahu", *meta.MatchedSelector)
	_, err := time.Parse(time.RFC3339, meta.CapturedAt)
	assert.NoError(t, err)
}

func TestWriteDOMSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &DOMSnapshot{
		Title:        "AHU-1 Overview",
		URL:          "https://bas.local/ahu1",
		RootSelector: "#ahu",
		RootTag:      "div",
		Text:         "Supply Air 55.2F\nReturn Air 72.4F",
		States: []ElementFacts{
			{
				Tag:     "input",
				ID:      strptr("setpoint"),
				Type:    strptr("number"),
				Text:    "",
				Value:   strptr("55.0"),
				Checked: nil,
			},
			{
				Tag:       "button",
				Class:     strptr("toggle active"),
				Text:      "Occupied",
				DataState: strptr("on"),
			},
		},
	}
	page := &fakePage{snapFn: func(string) (*DOMSnapshot, error) { return want, nil }}
	w := NewCaptureWriter(page, testLogger())
	target := config.TargetSpec{Name: "ahu1", URL: "https://bas.local/ahu1", RootSelector: "#ahu"}

	require.NoError(t, w.Write(context.Background(), dir, target, baseMeta(target)))

	data, err := os.ReadFile(filepath.Join(dir, "dom.json"))
	require.NoError(t, err)
	var got DOMSnapshot
	require.NoError(t, json.Unmarshal(data, &got))
	if diff := cmp.Diff(*want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteScreenshotFailureStillWritesDOM(t *testing.T) {
	dir := t.TempDir()
	page := &fakePage{shotFn: func(ScreenshotOptions) ([]byte, error) {
		return nil, errors.New("capture timed out")
	}}
	w := NewCaptureWriter(page, testLogger())
	target := config.TargetSpec{Name: "chiller", URL: "https://bas.local/chiller"}

	err := w.Write(context.Background(), dir, target, baseMeta(target))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactWriteFailed)

	// DOM and metadata survive the screenshot failure.
	_, statErr := os.Stat(filepath.Join(dir, "dom.json"))
	assert.NoError(t, statErr)
	meta := readMeta(t, dir)
	assert.False(t, meta.Success)
	assert.Equal(t, []string{"dom.json"}, meta.Artifacts)
	assert.Contains(t, meta.Error, "screenshot")
}

func TestWriteSnapshotFailureStillWritesScreenshot(t *testing.T) {
	dir := t.TempDir()
	page := &fakePage{snapFn: func(string) (*DOMSnapshot, error) {
		return nil, errors.New("evaluate failed")
	}}
	w := NewCaptureWriter(page, testLogger())
	target := config.TargetSpec{Name: "boiler", URL: "https://bas.local/boiler"}

	err := w.Write(context.Background(), dir, target, baseMeta(target))
	assert.ErrorIs(t, err, ErrArtifactWriteFailed)

	_, statErr := os.Stat(filepath.Join(dir, "screenshot.png"))
	assert.NoError(t, statErr)
	meta := readMeta(t, dir)
	assert.Equal(t, []string{"screenshot.png"}, meta.Artifacts)
}

func TestWriteElementScreenshotMode(t *testing.T) {
	dir := t.TempDir()
	var got ScreenshotOptions
	page := &fakePage{shotFn: func(opts ScreenshotOptions) ([]byte, error) {
		got = opts
		return []byte("png"), nil
	}}
	w := NewCaptureWriter(page, testLogger())
	target := config.TargetSpec{
		Name:       "gauge",
		URL:        "https://bas.local/gauge",
		Screenshot: config.ScreenshotSpec{Mode: config.ScreenshotElement, Selector: "#gauge-panel"},
	}

	require.NoError(t, w.Write(context.Background(), dir, target, baseMeta(target)))
	assert.False(t, got.FullPage)
	assert.Equal(t, "#gauge-panel", got.Selector)
}

func TestWriteFailureMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	w := NewCaptureWriter(&fakePage{}, testLogger())
	target := config.TargetSpec{Name: "down", URL: "https://bas.local/down"}

	meta := baseMeta(target)
	meta.MatchedSelector = nil
	meta.Error = "target not ready"
	require.NoError(t, w.WriteFailure(dir, target, meta))

	got := readMeta(t, dir)
	assert.False(t, got.Success)
	assert.Nil(t, got.MatchedSelector)
	assert.Empty(t, got.Artifacts)
	assert.Equal(t, "target not ready", got.Error)

	_, err := os.Stat(filepath.Join(dir, "screenshot.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AHU-1", "AHU-1"},
		{"zone 3 / floor 2", "zone_3___floor_2"},
		{"chiller.overview_v2", "chiller.overview_v2"},
		{"ÿüñï", "____"},
		{"", "unnamed"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeName(tc.in), tc.in)
	}
}
