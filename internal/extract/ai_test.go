package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/oppcrawl/internal/crawler"
)

func TestParsePeopleDropsPlaceholders(t *testing.T) {
	assert.Empty(t, ParsePeople(`[{"name":"Not mentioned","title":"Executive"}]`))
}

func TestParsePeople(t *testing.T) {
	reply := "Here is the team:\n```json\n" + `{"people": [
		{"name": "Ada Lovelace", "title": "Chief Executive", "email": "ada@agency.gov.au"},
		{"name": " ada  lovelace ", "title": "Duplicate"},
		{"name": "Grace Hopper", "title": "N/A", "email": "not provided"},
		{"name": "Unknown", "title": "Chief Financial Officer"},
		{"name": "John Doe", "title": "Director"}
	]}` + "\n```"

	people := ParsePeople(reply)

	assert.Equal(t, []crawler.Person{
		{Name: "Ada Lovelace", Title: "Chief Executive", Email: "ada@agency.gov.au"},
		{Name: "Grace Hopper"},
	}, people)
}

func TestParsePeopleNoJSON(t *testing.T) {
	assert.Empty(t, ParsePeople("I could not find anyone."))
	assert.Empty(t, ParsePeople(`{"people": "none"}`))
}

func TestParseReplyFields(t *testing.T) {
	reply := `{"title": "Cloud hosting", "buyer": "Not mentioned", "closingDate": "1 Dec 2026",
		"contactEmail": "noreply@agency.gov.au", "location": "TBA", "criteria": "Baseline clearance"}`

	rec := parseReply(reply)

	assert.Equal(t, "Cloud hosting", rec.Title)
	assert.Empty(t, rec.Buyer)
	assert.Equal(t, "1 Dec 2026", rec.ClosingDate)
	assert.Empty(t, rec.ContactEmail)
	assert.Empty(t, rec.Location)
	require.Equal(t, []string{"Baseline clearance"}, rec.Criteria)
}

func TestIsPlaceholder(t *testing.T) {
	tests := map[string]bool{
		"Not mentioned":            true,
		"  n/a ":                   true,
		"Unknown.":                 true,
		"TBD":                      true,
		"Lorem ipsum dolor":        true,
		"Jane Doe":                 true,
		"Department of Finance":    false,
		"Anna Smith":               false,
		"30 November 2026":         false,
		"The final scope of the work is unknown until discovery completes in early 2027": false,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsPlaceholder(in), in)
	}
}
