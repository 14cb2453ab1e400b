package tgui

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is Telegram's message text size limit in characters.
const MaxMessageLen = 4096

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	// Single-pass implementation:
	//  - remember the byte index after the n-th rune
	//  - if there is an (n+1)-th rune, truncate + ellipsis
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// SplitMessage splits text into chunks that each fit within maxLen,
// preferring blank-line boundaries so logical entries stay together.
// An entry longer than maxLen is hard-cut at a rune boundary.
//
// maxLen <= 0 falls back to MaxMessageLen; values below 2 are clamped so a
// hard-cut chunk always has room for one rune plus the ellipsis.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLen
	} else if maxLen < 2 {
		maxLen = 2
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, entry := range strings.Split(text, "\n\n") {
		n := utf8.RuneCountInString(entry)

		// Oversized single entry: hard-cut.
		if n > maxLen {
			flush()
			for utf8.RuneCountInString(entry) > maxLen {
				head := TruncRunes(entry, maxLen-1) // leaves room for the ellipsis
				chunks = append(chunks, head)
				entry = entry[len(head)-len("…"):]
			}
			if s := strings.TrimSpace(entry); s != "" {
				cur.WriteString(s)
				curLen = utf8.RuneCountInString(s)
			}
			continue
		}

		// +2 accounts for the blank-line separator.
		if curLen > 0 && curLen+2+n > maxLen {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(entry)
		curLen += n
	}
	flush()
	return chunks
}
