// Package normalize produces the canonical text form used for embedding,
// keyword matching, and near-duplicate grouping.
package normalize

import (
	"regexp"
	"strings"
)

// MaxChars bounds normalized text. The title leads so it always survives
// the clip; only the tail of a long body is dropped.
const MaxChars = 4000

// TitleKeyChars bounds the fallback grouping key built from body text.
const TitleKeyChars = 80

var (
	codeBlockRE  = regexp.MustCompile("(?s)```.*?```")
	urlRE        = regexp.MustCompile(`https?://\S+`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Text returns the normalized form of a ticket's text: code blocks and
// URLs stripped, lowercased, whitespace collapsed, clipped to MaxChars.
func Text(title, body string) string {
	s := strings.TrimSpace(title) + "\n" + body
	s = codeBlockRE.ReplaceAllString(s, " ")
	s = urlRE.ReplaceAllString(s, " ")
	s = strings.ToLower(s)
	s = whitespaceRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return Clip(s, MaxChars)
}

// TitleKey returns the grouping key for near-duplicate detection: the
// normalized title, or the leading slice of the normalized body for
// title-less tickets. Empty when the ticket has no usable text.
func TitleKey(title, body string) string {
	key := Text(title, "")
	if key != "" {
		return key
	}
	return Clip(Text("", body), TitleKeyChars)
}

// Clip truncates s to at most max runes.
func Clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
