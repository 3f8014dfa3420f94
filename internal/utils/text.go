package utils

import "unicode/utf8"

// Truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return string(runes[:1])
	}
	return string(runes[:limit-1]) + "…"
}

// TrimRunes cuts s to at most limit runes without a marker.
func TrimRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// Pagify splits text into chunks of at most size runes, preferring to break
// at a newline and then at a space.
func Pagify(text string, size int) []string {
	var pages []string
	runes := []rune(text)
	for len(runes) > size {
		cut := size
		if i := lastIndexRune(runes[:size], '\n'); i > size/2 {
			cut = i + 1
		} else if i := lastIndexRune(runes[:size], ' '); i > size/2 {
			cut = i + 1
		}
		pages = append(pages, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(pages) == 0 {
		pages = append(pages, string(runes))
	}
	return pages
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
