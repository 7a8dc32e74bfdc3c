package extract

import "strings"

// minTitleLen is the shortest heading accepted as a title
const minTitleLen = 8

// noisePhrases mark text rendered for the session rather than the record
var noisePhrases = []string{
	"logged in", "log in", "sign in", "invited", "respond to this",
	"page not found", "access denied", "session expired", "not authorised",
	"not authorized", "something went wrong", "error occurred",
	"error 404", "error 500", "404 not found", "internal server error",
}

// isNoise reports whether s contains an auth or error phrase
func isNoise(s string) bool {
	l := strings.ToLower(s)
	for _, p := range noisePhrases {
		if strings.Contains(l, p) {
			return true
		}
	}
	return false
}

// substantial lines read like prose rather than navigation
func substantial(line string) bool {
	return len(line) >= 20 && len(strings.Fields(line)) >= 3
}

// ResolveTitle picks a record title from page headings and text. The first
// h1 that is long enough and not the brand wins, then the first h2, then the
// first substantial line that is neither a label nor a label's value. hint,
// the title seen on the listing, is used when nothing qualifies.
func ResolveTitle(h1, h2, lines []string, brand, hint string, labels *labelSet) string {
	if labels == nil {
		labels = newLabelSet(nil)
	}
	usable := func(s string) bool {
		s = strings.TrimSpace(s)
		return len(s) >= minTitleLen && !isBrand(s, brand) && !isNoise(s)
	}

	for _, h := range h1 {
		if usable(h) {
			return h
		}
	}
	for _, h := range h2 {
		if usable(h) {
			return h
		}
	}

	afterLabel := false
	for _, line := range lines {
		if labels.isLabel(line) {
			afterLabel = true
			continue
		}
		if afterLabel {
			afterLabel = false
			continue
		}
		if substantial(line) && usable(line) {
			return line
		}
	}
	return strings.TrimSpace(hint)
}

func isBrand(s, brand string) bool {
	return brand != "" && strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(brand))
}
