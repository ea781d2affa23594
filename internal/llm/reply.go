package llm

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*(.*?)\\s*```$")
)

// CleanReply removes wrapping that models add around a one-line answer: reasoning blocks,
// code fences, surrounding backticks and quotes. Inner text is left alone; safety of the
// result is the name validator's job.
func CleanReply(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	// an unterminated reasoning block leaves only the part after it usable
	if i := strings.LastIndex(strings.ToLower(s), "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	for {
		t := strings.TrimSpace(s)
		t = trimPair(t, "`", "`")
		t = trimPair(t, `"`, `"`)
		t = trimPair(t, "'", "'")
		t = trimPair(t, "“", "”")
		if t == s {
			return t
		}
		s = t
	}
}

func trimPair(s, open, close string) string {
	if len(s) >= len(open)+len(close) && strings.HasPrefix(s, open) && strings.HasSuffix(s, close) {
		return s[len(open) : len(s)-len(close)]
	}
	return s
}

// IsSentinel reports whether a cleaned reply is the given sentinel, ignoring case and
// trailing punctuation.
func IsSentinel(reply, sentinel string) bool {
	r := strings.TrimRight(strings.TrimSpace(reply), ".!")
	return strings.EqualFold(r, sentinel)
}
