package http

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"feishu_dify_bridge/internal/entities"
)

// mentionPlaceholder matches "@_user_1" style keys Feishu puts in group text.
var mentionPlaceholder = regexp.MustCompile(`@_user_\d+`)

// StripMentions removes @-mention placeholders from message text.
func StripMentions(text string, mentions []entities.FeishuMention) string {
	for _, m := range mentions {
		if m.Key != "" {
			text = strings.ReplaceAll(text, m.Key, "")
		}
	}
	return strings.TrimSpace(mentionPlaceholder.ReplaceAllString(text, ""))
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// TruncateString truncates s to at most maxLen runes.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
