package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/masahif/oppcrawl/internal/crawler"
)

const opportunityPrompt = `Extract the procurement opportunity described in the document.
Return a single JSON object with exactly these keys:
  "title", "buyer", "publishDate", "closingDate", "statusLabel",
  "contactText", "contactEmail", "location", "description", "criteria"
"criteria" is an array of strings, one per requirement or evaluation criterion.
Dates are copied as written in the document. Use an empty string (or an empty
array) for anything the document does not state. Never invent values and never
write placeholders such as "N/A", "Not mentioned" or "Unknown".
Return only the JSON.`

const leadershipPrompt = `List the leadership team described in the document.
Return a single JSON object with these keys:
  "title": the page or organisation title,
  "buyer": the organisation name,
  "people": an array of {"name", "title", "email"} objects.
Only include people whose real name appears in the document. Leave "title" or
"email" empty when not stated. Never write placeholders such as "Not mentioned",
"Unknown" or "John Doe". Return only the JSON.`

// exactPlaceholders are whole values that mean "nothing"
var exactPlaceholders = map[string]bool{
	"": true, "-": true, "--": true, "?": true, "n/a": true, "na": true,
	"none": true, "null": true, "nil": true, "tbd": true, "tba": true,
	"tbc": true, "not applicable": true, "no data": true, "various": true,
}

// placeholderFragments mark a value as filler wherever they appear
var placeholderFragments = []string{
	"not mentioned", "not specified", "not stated", "not provided",
	"not available", "not given", "not found", "not listed", "not disclosed",
	"unknown", "placeholder", "lorem ipsum", "john doe", "jane doe",
	"example.com", "[name]", "<name>", "your name",
}

var validEmail = regexp.MustCompile(`(?i)^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// maxPlaceholderLen bounds the values checked for filler fragments; longer
// prose may mention "unknown" legitimately
const maxPlaceholderLen = 60

// IsPlaceholder reports whether an inferred value is filler rather than data
func IsPlaceholder(s string) bool {
	l := strings.ToLower(collapse(s))
	l = strings.Trim(l, " .,;:\"'()")
	if exactPlaceholders[l] {
		return true
	}
	if len(l) > maxPlaceholderLen {
		return false
	}
	for _, f := range placeholderFragments {
		if strings.Contains(l, f) {
			return true
		}
	}
	return false
}

func clean(s string) string {
	s = collapse(s)
	if IsPlaceholder(s) {
		return ""
	}
	return s
}

// stringList accepts a JSON array of strings or a single string
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		// Anything else is ignored rather than failing the whole reply
		return nil
	}
	if one != "" {
		*l = []string{one}
	}
	return nil
}

type aiPerson struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Email string `json:"email"`
}

// aiFields is the reply shape for both prompts
type aiFields struct {
	Title        string     `json:"title"`
	Buyer        string     `json:"buyer"`
	PublishDate  string     `json:"publishDate"`
	ClosingDate  string     `json:"closingDate"`
	StatusLabel  string     `json:"statusLabel"`
	ContactText  string     `json:"contactText"`
	ContactEmail string     `json:"contactEmail"`
	Location     string     `json:"location"`
	Description  string     `json:"description"`
	Criteria     stringList `json:"criteria"`
	People       []aiPerson `json:"people"`
}

// parseReply reads the first JSON value of an inference reply into a record
// holding only genuine values. An array reply is read as a people list.
func parseReply(text string) crawler.Record {
	raw, ok := FirstJSON(text)
	if !ok {
		return crawler.Record{}
	}
	if raw[0] == '[' {
		var people []aiPerson
		if json.Unmarshal(raw, &people) != nil {
			return crawler.Record{}
		}
		return crawler.Record{People: cleanPeople(people)}
	}

	var f aiFields
	if json.Unmarshal(raw, &f) != nil {
		return crawler.Record{}
	}
	rec := crawler.Record{
		Title:       clean(f.Title),
		Buyer:       clean(f.Buyer),
		PublishDate: clean(f.PublishDate),
		ClosingDate: clean(f.ClosingDate),
		StatusLabel: clean(f.StatusLabel),
		ContactText: clean(f.ContactText),
		Location:    clean(f.Location),
		Description: clean(f.Description),
		People:      cleanPeople(f.People),
	}
	if email := clean(f.ContactEmail); validEmail.MatchString(email) && !noReplyRe.MatchString(email) {
		rec.ContactEmail = email
	}
	for _, c := range f.Criteria {
		if c = clean(c); c != "" {
			rec.Criteria = append(rec.Criteria, c)
		}
	}
	return rec
}

// ParsePeople reads a people list from an inference reply. Both a bare array
// and an object with a "people" key are accepted. Placeholder names drop the
// person; placeholder titles and malformed emails are cleared.
func ParsePeople(text string) []crawler.Person {
	return parseReply(text).People
}

func cleanPeople(in []aiPerson) []crawler.Person {
	var out []crawler.Person
	seen := make(map[string]bool)
	for _, p := range in {
		name := clean(p.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		person := crawler.Person{Name: name, Title: clean(p.Title)}
		if email := strings.TrimSpace(p.Email); validEmail.MatchString(email) && !IsPlaceholder(email) {
			person.Email = email
		}
		out = append(out, person)
	}
	return out
}
