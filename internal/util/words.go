package util

import "strings"

// CountWords returns the number of whitespace-separated words in s.
// Empty or all-whitespace input counts zero.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
