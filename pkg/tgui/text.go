package tgui

// TruncRunes cuts s to n runes, replacing the tail with "…" when it was
// longer.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}
