package anthropic

import (
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: `{"rules":`},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: `[]}`},
	}}
	assert.Equal(t, `{"rules":[]}`, resp.Text())

	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())
}

func TestToSDKMessages(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "system", Content: "c"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, out[2].Role)
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "default ttl", CacheControl: &CacheControl{}},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "plain", out[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), out[1].CacheControl.TTL)
	assert.Equal(t, sdk.CacheControlEphemeralTTL(""), out[2].CacheControl.TTL)
}

func TestCachedSystem(t *testing.T) {
	assert.Nil(t, CachedSystem("", "1h"))

	blocks := CachedSystem("instructions", "")
	require.Len(t, blocks, 1)
	assert.Equal(t, "instructions", blocks[0].Text)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{"haiku", "claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 6.00},
		{"sonnet", "claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 1_000_000}, 3.00},
		{"cache", "claude-sonnet-4-5-20250929", TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}, 3.75 + 0.30},
		{"unknown", "gpt-x", TokenUsage{InputTokens: 1_000_000}, 0},
		{"zero", "claude-opus-4-6", TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 1e-9)
		})
	}
}

func TestTokenUsage_Add(t *testing.T) {
	sum := TokenUsage{InputTokens: 1, OutputTokens: 2}.Add(TokenUsage{InputTokens: 3, CacheReadInputTokens: 4})
	assert.Equal(t, TokenUsage{InputTokens: 4, OutputTokens: 2, CacheReadInputTokens: 4}, sum)
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10}.LogCost("claude-haiku-4-5-20251001", "draft")
	})
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Zero(t, StatusCode(errors.New("dial tcp: refused")))
	assert.Zero(t, StatusCode(nil))
}
