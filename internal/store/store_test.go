// ABOUTME: Tests for step encoding and title derivation
// ABOUTME: Step encoding matches the server's thought_steps shape

package store

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/kbchat/internal/turn"
)

func TestEncodeSteps_ServerShape(t *testing.T) {
	data, err := EncodeSteps(assistantTurn().Steps)
	require.NoError(t, err)

	assert.JSONEq(t, `[
		{"type":"thought","content":"Plan"},
		{"type":"tool_call","name":"search","args":{"q":"x"}},
		{"type":"tool_output","content":"result"}
	]`, data)

	back, err := DecodeSteps(data)
	require.NoError(t, err)
	assert.Equal(t, turn.Reasoning{Text: "Plan"}, back[0])
	assert.Equal(t, turn.ToolResult{Text: "result"}, back[2])
}

func TestDecodeSteps_SkipsUnknown(t *testing.T) {
	steps, err := DecodeSteps(`[{"type":"usage","content":"12"},{"type":"thought","content":"ok"}]`)
	require.NoError(t, err)
	assert.Equal(t, []turn.Step{turn.Reasoning{Text: "ok"}}, steps)

	steps, err = DecodeSteps("")
	require.NoError(t, err)
	assert.Nil(t, steps)

	_, err = DecodeSteps("{")
	assert.Error(t, err)
}

func TestEncodeSteps_NilArgsOmitted(t *testing.T) {
	data, err := EncodeSteps([]turn.Step{turn.ToolCall{Name: "now"}})
	require.NoError(t, err)

	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	_, hasArgs := raw[0]["args"]
	assert.False(t, hasArgs)
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "short", titleFrom("short"))

	long := strings.Repeat("日", 100)
	got := titleFrom(long)
	assert.Equal(t, titleLimit, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}
