package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfacesCommand_ListsBuiltinWebSurfaces(t *testing.T) {
	t.Setenv("WEB_MAX_SESSIONS", "1")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OUTSOURCED_PROVIDERS", "scraper-co=google-search")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"surfaces"})

	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "ID"))
	assert.Contains(t, text, "chatgpt-web")
	assert.Contains(t, text, "in-house,scraper-co")
	assert.NotContains(t, text, "openai-api")
}

func TestQueryCommand_RequiresSurface(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"query", "hello"})

	assert.Error(t, cmd.Execute())
}

func TestQueryCommand_UnknownSurfaceFails(t *testing.T) {
	t.Setenv("WEB_MAX_SESSIONS", "0")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"query", "--surface", "no-such-surface", "hello"})

	require.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "UNSUPPORTED_SURFACE")
}
