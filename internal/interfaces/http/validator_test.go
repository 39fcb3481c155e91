package http

import (
	"testing"

	"feishu_dify_bridge/internal/entities"

	"github.com/stretchr/testify/assert"
)

func TestStripMentions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		mentions []entities.FeishuMention
		want     string
	}{
		{"no mentions", "hello there", nil, "hello there"},
		{"declared mention", "@_user_1 what time is it", []entities.FeishuMention{{Key: "@_user_1", Name: "bot"}}, "what time is it"},
		{"undeclared placeholder", "@_user_12  hi", nil, "hi"},
		{"mention only", "@_user_1", []entities.FeishuMention{{Key: "@_user_1"}}, ""},
		{"keeps newlines", "@_user_1 line one\nline two", nil, "line one\nline two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMentions(tt.text, tt.mentions))
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("a\x00bc"))
	assert.Equal(t, "ok", SanitizeString("o\xffk"))
	assert.Equal(t, "你好", SanitizeString("你好"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc...", TruncateString("abcdef", 3))
	assert.Equal(t, "你好...", TruncateString("你好世界", 2))
}
