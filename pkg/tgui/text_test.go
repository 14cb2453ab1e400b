package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "exact", in: "abcde", n: 5, want: "abcde"},
		{name: "cut", in: "abcdef", n: 3, want: "abc…"},
		{name: "zero", in: "abc", n: 0, want: ""},
		{name: "multibyte", in: "héllo wörld", n: 4, want: "héll…"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncRunes(tt.in, tt.n); got != tt.want {
				t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestSplitMessageShort(t *testing.T) {
	t.Parallel()
	got := SplitMessage("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected chunks: %#v", got)
	}
}

func TestSplitMessagePrefersBlankLines(t *testing.T) {
	t.Parallel()
	entries := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
	}
	got := SplitMessage(strings.Join(entries, "\n\n"), 70)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%#v)", len(got), got)
	}
	if !strings.Contains(got[0], "aaa") || !strings.Contains(got[0], "bbb") {
		t.Fatalf("first chunk should hold two entries: %q", got[0])
	}
	if !strings.HasPrefix(got[1], "ccc") {
		t.Fatalf("second chunk should start the third entry: %q", got[1])
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 70 {
			t.Fatalf("chunk exceeds limit: %d runes", utf8.RuneCountInString(c))
		}
	}
}

func TestSplitMessageHardCutsOversizedEntry(t *testing.T) {
	t.Parallel()
	got := SplitMessage(strings.Repeat("x", 250), 100)
	if len(got) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(got))
	}
	var total int
	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Fatalf("chunk exceeds limit: %d runes", n)
		}
		total += len(strings.ReplaceAll(c, "…", ""))
	}
	if total != 250 {
		t.Fatalf("content lost: %d of 250 runes survive", total)
	}
}

func TestSplitMessageTinyMax(t *testing.T) {
	t.Parallel()
	// maxLen below the clamp must not panic and must still return everything.
	got := SplitMessage("abcdef", 1)
	if len(got) == 0 {
		t.Fatal("no chunks returned")
	}
	var total int
	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > 2 {
			t.Fatalf("chunk exceeds clamped limit: %d runes (%q)", n, c)
		}
		total += len(strings.ReplaceAll(c, "…", ""))
	}
	if total != len("abcdef") {
		t.Fatalf("content lost: %d of %d bytes survive", total, len("abcdef"))
	}
}

func TestEsc(t *testing.T) {
	t.Parallel()
	if got := Esc("<b> & 'x'").String(); !strings.Contains(got, "&lt;b&gt;") {
		t.Fatalf("Esc did not escape: %q", got)
	}
	if got := B("hi").String(); got != "<b>hi</b>" {
		t.Fatalf("B = %q", got)
	}
}
