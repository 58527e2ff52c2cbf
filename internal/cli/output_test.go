package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/registry"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"job_id": "job-1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeNotFound, "no result", []string{"job ghost"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "no result", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error(ErrCodeGeneric, "generation failed", map[string]string{"kind": "json"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "generation failed")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error(ErrCodeGeneric, "generation failed", map[string]string{"kind": "json"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Render(t *testing.T) {
	text := func(w io.Writer) { fmt.Fprint(w, "rendered as text") }

	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, formatter.Render(map[string]int{"n": 1}, text))
	assert.Equal(t, "rendered as text", buf.String())

	buf.Reset()
	formatter.Format = "json"
	require.NoError(t, formatter.Render(map[string]int{"n": 1}, text))
	assert.JSONEq(t, `{"status":"ok","data":{"n":1}}`, buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Fail(ExitFailure, "no result", fmt.Errorf("job ghost: %w", jobs.ErrNotFound))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("job %s started", "job-1")

			assert.Empty(t, buf.String(), "diagnostics never go to stdout")
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "job job-1 started")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{jobs.ErrNotFound, ErrCodeNotFound},
		{fmt.Errorf("result: %w", jobs.ErrNotFinished), ErrCodeNotFinished},
		{&gate.ValidationBlockedError{JobID: "j"}, ErrCodeInvalidState},
		{&registry.ConfigError{Kind: registry.KindCycle}, ErrCodeConfig},
		{errors.New("boom"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "db", errors.New("locked")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "db: locked", WrapExitError(ExitCommandError, "db", errors.New("locked")).Error())
}
