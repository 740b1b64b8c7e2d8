package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.Error(t, Config{}.Validate())
	require.Error(t, Config{Prompt: "   "}.Validate())
	require.NoError(t, Config{Prompt: "hello"}.Validate())
}

func TestConfig_ComposedPrompt(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			"prompt only",
			Config{Prompt: "do the thing"},
			"do the thing",
		},
		{
			"system and prompt",
			Config{SystemPrompt: "be terse", Prompt: "hi"},
			"be terse\n\nhi",
		},
		{
			"all three",
			Config{SystemPrompt: "sys", Prompt: "hi", AppendSystemPrompt: "extra"},
			"sys\n\nhi\n\nextra",
		},
		{
			"append only",
			Config{Prompt: "hi", AppendSystemPrompt: "memory notes"},
			"hi\n\nmemory notes",
		},
		{
			"whitespace parts skipped",
			Config{SystemPrompt: "  ", Prompt: "hi", AppendSystemPrompt: "\n"},
			"hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.config.ComposedPrompt())
		})
	}
}

func TestConfig_IsResume(t *testing.T) {
	require.False(t, Config{}.IsResume())
	require.True(t, Config{ResumeSessionID: "abc"}.IsResume())
	require.True(t, Config{ContinueSession: true}.IsResume())
}
