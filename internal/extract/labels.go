package extract

import (
	"regexp"
	"strings"
)

// Field names a record field the scans can fill
type Field string

const (
	FieldTitle        Field = "title"
	FieldBuyer        Field = "buyer"
	FieldPublishDate  Field = "publishDate"
	FieldClosingDate  Field = "closingDate"
	FieldStatus       Field = "statusLabel"
	FieldContactText  Field = "contactText"
	FieldContactEmail Field = "contactEmail"
	FieldLocation     Field = "location"
	FieldDescription  Field = "description"
)

// labelRule maps a label line to a field. Values longer than maxLen are
// rejected as accidental section captures.
type labelRule struct {
	pattern *regexp.Regexp
	field   Field
	maxLen  int
}

// labelTable is scanned in order; the first matching rule wins for a line
var labelTable = []labelRule{
	{regexp.MustCompile(`^(opportunity (title|name)|title)$`), FieldTitle, 200},
	{regexp.MustCompile(`^(buyer|agency|organisation|organization|department|buying entity|buyer name)$`), FieldBuyer, 200},
	{regexp.MustCompile(`^(closing date( and time)?|closes|closing|deadline|applications close|closing date \(.*\))$`), FieldClosingDate, 80},
	{regexp.MustCompile(`^(published|publish date|date published|opened|opening date|published date)$`), FieldPublishDate, 80},
	{regexp.MustCompile(`^(opportunity )?status$`), FieldStatus, 40},
	{regexp.MustCompile(`^(locations?|work location|working location|location of work)$`), FieldLocation, 200},
	{regexp.MustCompile(`^(contact( officer| details| person)?|enquiries|buyer contact)$`), FieldContactText, 300},
	{regexp.MustCompile(`^(contact )?e-?mail( address)?$`), FieldContactEmail, 120},
	{regexp.MustCompile(`^(description|summary|overview|about the opportunity)$`), FieldDescription, 2000},
}

// labelSet is the compiled label vocabulary for one site profile
type labelSet struct {
	rules []labelRule
	extra map[string]Field // exact normalised label additions
}

func newLabelSet(extra map[string]string) *labelSet {
	ls := &labelSet{rules: labelTable, extra: make(map[string]Field, len(extra))}
	for label, field := range extra {
		ls.extra[normalizeLabel(label)] = Field(field)
	}
	return ls
}

// match returns the rule for a label line
func (ls *labelSet) match(line string) (labelRule, bool) {
	label := normalizeLabel(line)
	if label == "" || len(label) > 60 {
		return labelRule{}, false
	}
	if f, ok := ls.extra[label]; ok {
		return labelRule{field: f, maxLen: 300}, true
	}
	for _, rule := range ls.rules {
		if rule.pattern.MatchString(label) {
			return rule, true
		}
	}
	return labelRule{}, false
}

// isLabel reports whether line is a known label
func (ls *labelSet) isLabel(line string) bool {
	_, ok := ls.match(line)
	return ok
}

// scanLines implements label adjacency over visible lines. A label is read
// either from its own line, taking the next non-label line as the value, or
// as an inline "Label: value" pair.
func (ls *labelSet) scanLines(lines []string) map[Field]string {
	out := make(map[Field]string)
	set := func(rule labelRule, value string) {
		value = strings.TrimSpace(value)
		if value == "" || len(value) > rule.maxLen {
			return
		}
		if _, ok := out[rule.field]; !ok {
			out[rule.field] = value
		}
	}

	for i, line := range lines {
		if rule, ok := ls.match(line); ok {
			if i+1 < len(lines) && !ls.isLabel(lines[i+1]) {
				set(rule, lines[i+1])
			}
			continue
		}
		if label, value, ok := strings.Cut(line, ":"); ok {
			if rule, ok := ls.match(label); ok {
				set(rule, value)
			}
		}
	}
	return out
}

// normalizeLabel lower-cases, collapses whitespace and drops a trailing colon
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	s = strings.TrimSuffix(s, ":")
	s = strings.TrimSuffix(s, "*")
	return strings.TrimSpace(s)
}
