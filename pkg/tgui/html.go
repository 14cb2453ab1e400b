package tgui

import (
	"html"
	"strings"
)

// H is a fragment of Telegram HTML (ParseMode="HTML"). A value of type H is
// treated as already escaped; build it with Esc and the tag helpers, or with
// Raw when the markup is known safe.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML. Use sparingly.
func Raw(s string) H { return H(s) }

// B renders bold, I italic, Code inline monospace. Arguments are plain text
// and get escaped.
func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

func tag(name, inner string) H {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	b.WriteString(html.EscapeString(inner))
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
	return H(b.String())
}

// JoinH joins fragments with sep, dropping blank parts so optional sections
// don't leave stray separators.
func JoinH(sep string, parts ...H) H {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		kept = append(kept, string(p))
	}
	return H(strings.Join(kept, sep))
}
