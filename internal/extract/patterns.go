package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sectionBudget caps how much text one named section may capture
const sectionBudget = 2000

var emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

var noReplyRe = regexp.MustCompile(`(?i)^(no-?reply|do-?not-?reply|donotreply|mailer-daemon|postmaster)([.+_-].*)?@`)

// FindEmails returns distinct addresses in order of appearance, skipping
// no-reply style mailboxes
func FindEmails(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range emailRe.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".-")
		key := strings.ToLower(m)
		if seen[key] || noReplyRe.MatchString(m) {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// sectionRule names a section heading and the field its body fills
type sectionRule struct {
	pattern *regexp.Regexp
	field   string // "criteria" or "description"
}

var sectionTable = []sectionRule{
	{regexp.MustCompile(`^(essential|desirable|selection|evaluation) criteria$`), "criteria"},
	{regexp.MustCompile(`^criteria$`), "criteria"},
	{regexp.MustCompile(`^(key )?requirements$`), "criteria"},
	{regexp.MustCompile(`^key (duties|responsibilities)$`), "criteria"},
	{regexp.MustCompile(`^(description|overview|about the (opportunity|role)|summary of requirement)$`), "description"},
}

func matchSection(line string) (sectionRule, bool) {
	label := normalizeLabel(line)
	if len(label) > 60 {
		return sectionRule{}, false
	}
	for _, r := range sectionTable {
		if r.pattern.MatchString(label) {
			return r, true
		}
	}
	return sectionRule{}, false
}

// sections collects the bodies of named sections. A body ends at the next
// section heading, known label or page heading, or when the budget is spent.
func sections(lines []string, labels *labelSet, headings map[string]bool) (criteria []string, description string) {
	var desc []string
	for i := 0; i < len(lines); i++ {
		rule, ok := matchSection(lines[i])
		if !ok {
			continue
		}
		used := 0
		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			line := lines[j]
			if _, stop := matchSection(line); stop || labels.isLabel(line) || headings[line] {
				break
			}
			if used+len(line) > sectionBudget {
				break
			}
			used += len(line)
			body = append(body, line)
		}
		i = j - 1

		switch rule.field {
		case "criteria":
			for _, l := range body {
				if item := trimBullet(l); item != "" {
					criteria = append(criteria, item)
				}
			}
		case "description":
			if desc == nil {
				desc = body
			}
		}
	}
	return criteria, strings.Join(desc, "\n")
}

var bulletRe = regexp.MustCompile(`^\s*(?:[•·*▪◦\-–]|\(?\d{1,2}[.)])\s*`)

func trimBullet(s string) string {
	return strings.TrimSpace(bulletRe.ReplaceAllString(s, ""))
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
