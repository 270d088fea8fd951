package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestFormatHeaders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "*[❌ERROR]* 2026-03-04 05:06:07:\n\nboom"},
		{LevelInfo, "*[ℹ️INFO]* 2026-03-04 05:06:07:\n\nboom"},
		{LevelWarning, "*[⚠️WARNING]* 2026-03-04 05:06:07:\n\nboom"},
		{LevelSuccess, "*[✅SUCCESS]* 2026-03-04 05:06:07:\n\nboom"},
		{LevelMessage, "*[📩MESSAGE]* 2026-03-04 05:06:07:\n\nboom"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Format(tt.level, fixedNow, "boom"), tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Level{
		"":        LevelMessage,
		"ERROR":   LevelError,
		"warn":    LevelWarning,
		"Success": LevelSuccess,
		"info":    LevelInfo,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("fatal")
	require.ErrorIs(t, err, ErrUnknownLevel)
}

func TestEscapeMarkdown(t *testing.T) {
	t.Parallel()
	require.Equal(t, `my\_file\*.go \[x]`, EscapeMarkdown("my_file*.go [x]"))
}

func TestErrorReport(t *testing.T) {
	t.Parallel()
	base := &fs.PathError{Op: "open", Path: "/tmp/a_b", Err: fs.ErrNotExist}
	err := fmt.Errorf("load config: %w", base)
	frames := []Frame{{Func: "main.run", File: "/src/main.go", Line: 12}}

	got := ErrorReport(err, "staging", fixedNow, frames)
	require.True(t, strings.HasPrefix(got, "*[❌ERROR]* 2026-03-04 05:06:07\nEnvironment: staging\n\n"))
	require.Contains(t, got, "🛑\\*fmt.wrapError: load config: open /tmp/a\\_b: file does not exist\n")
	require.Contains(t, got, "Inner error: open /tmp/a\\_b: file does not exist\n")
	require.Contains(t, got, "🪲Source:\n    At /src/main.go:12 in main.run")
}

func TestErrorReportWithoutEnvOrCause(t *testing.T) {
	t.Parallel()
	got := ErrorReport(errors.New("plain"), "", fixedNow, nil)
	require.NotContains(t, got, "Environment")
	require.NotContains(t, got, "Inner error")
	require.NotContains(t, got, "Source")
}

func TestErrorDetailsWalksTree(t *testing.T) {
	t.Parallel()
	a := errors.New("a failed")
	b := fmt.Errorf("b failed: %w", errors.New("disk full"))
	err := fmt.Errorf("batch: %w", errors.Join(a, b))

	raw, derr := ErrorDetails(err, "prod", fixedNow, nil)
	require.NoError(t, derr)

	var d Details
	require.NoError(t, json.Unmarshal(raw, &d))
	require.Equal(t, "prod", d.Environment)
	require.Equal(t, "*fmt.wrapError", d.Error.Type)
	require.Len(t, d.Error.Causes, 1)

	joined := d.Error.Causes[0]
	require.Len(t, joined.Causes, 2)
	require.Equal(t, "a failed", joined.Causes[0].Message)
	require.Equal(t, "disk full", joined.Causes[1].Causes[0].Message)
}

func TestCallersStartsAtCaller(t *testing.T) {
	t.Parallel()
	frames := Callers(0)
	require.NotEmpty(t, frames)
	require.LessOrEqual(t, len(frames), maxFrames)
	require.Contains(t, frames[0].Func, "TestCallersStartsAtCaller")
}
