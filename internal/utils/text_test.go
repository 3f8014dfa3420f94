package utils

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("unexpected: %s", got)
	}
	if got := Truncate("héllo world", 5); got != "héll…" {
		t.Fatalf("unexpected: %s", got)
	}
	if got := TrimRunes("ñandú", 3); got != "ñan" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestPagifyPrefersLineBreaks(t *testing.T) {
	text := strings.Repeat("a", 700) + "\n" + strings.Repeat("b", 700)
	pages := Pagify(text, 1000)
	if len(pages) != 2 || pages[0] != strings.Repeat("a", 700)+"\n" || pages[1] != strings.Repeat("b", 700) {
		t.Fatalf("unexpected pages: %q", pages)
	}
	if pages := Pagify("", 10); len(pages) != 1 || pages[0] != "" {
		t.Fatalf("unexpected empty pages: %q", pages)
	}
	if pages := Pagify(strings.Repeat("x", 25), 10); len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
}
