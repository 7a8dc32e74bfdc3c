package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// keyAliases maps normalised DOM label keys to fields
var keyAliases = map[string]Field{
	"title":                 FieldTitle,
	"opportunity_title":     FieldTitle,
	"opportunity_name":      FieldTitle,
	"buyer":                 FieldBuyer,
	"buyer_name":            FieldBuyer,
	"agency":                FieldBuyer,
	"organisation":          FieldBuyer,
	"organization":          FieldBuyer,
	"department":            FieldBuyer,
	"buying_entity":         FieldBuyer,
	"closing_date":          FieldClosingDate,
	"closing_date_and_time": FieldClosingDate,
	"closes":                FieldClosingDate,
	"closing":               FieldClosingDate,
	"deadline":              FieldClosingDate,
	"published":             FieldPublishDate,
	"publish_date":          FieldPublishDate,
	"published_date":        FieldPublishDate,
	"date_published":        FieldPublishDate,
	"opening_date":          FieldPublishDate,
	"opened":                FieldPublishDate,
	"status":                FieldStatus,
	"opportunity_status":    FieldStatus,
	"location":              FieldLocation,
	"locations":             FieldLocation,
	"work_location":         FieldLocation,
	"contact":               FieldContactText,
	"contact_officer":       FieldContactText,
	"contact_details":       FieldContactText,
	"enquiries":             FieldContactText,
	"email":                 FieldContactEmail,
	"contact_email":         FieldContactEmail,
	"description":           FieldDescription,
	"summary":               FieldDescription,
	"overview":              FieldDescription,
}

// maxDOMValue bounds values taken from two-column layouts
const maxDOMValue = 2000

// NormalizeKey turns a label into a field key by lower-casing and replacing
// runs of non-alphanumerics with underscores.
func NormalizeKey(label string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(label), "_"), "_")
}

// domPairs reads label/value pairs from two-column layouts in document order
func domPairs(doc *goquery.Document) [][2]string {
	var pairs [][2]string
	add := func(label, value string) {
		label = collapse(label)
		value = collapse(value)
		if label == "" || value == "" || len(label) > 80 {
			return
		}
		pairs = append(pairs, [2]string{label, value})
	}

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			add(dt.Text(), dt.NextFiltered("dd").Text())
		})
	})

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if th := tr.ChildrenFiltered("th"); th.Length() == 1 {
			add(th.Text(), tr.ChildrenFiltered("td").First().Text())
			return
		}
		if tds := tr.ChildrenFiltered("td"); tds.Length() == 2 {
			add(tds.Eq(0).Text(), tds.Eq(1).Text())
		}
	})

	doc.Find(".label, [class*='-label'], [class*='__label']").Each(func(_ int, l *goquery.Selection) {
		if goquery.NodeName(l) == "dt" || goquery.NodeName(l) == "th" {
			return
		}
		v := l.NextFiltered(".value, [class*='-value'], [class*='__value']")
		if v.Length() == 0 {
			return
		}
		add(l.Text(), v.Text())
	})

	return pairs
}

// scanDOM maps two-column pairs to fields. Keys with no alias are returned
// in extra.
func scanDOM(html string, extraLabels map[string]Field) (map[Field]string, map[string]string) {
	fields := make(map[Field]string)
	extra := make(map[string]string)
	if strings.TrimSpace(html) == "" {
		return fields, extra
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fields, extra
	}

	for _, p := range domPairs(doc) {
		key := NormalizeKey(p[0])
		if key == "" {
			continue
		}
		value := truncate(p[1], maxDOMValue)
		field, ok := keyAliases[key]
		if !ok {
			field, ok = extraLabels[normalizeLabel(p[0])]
		}
		if !ok {
			if _, dup := extra[key]; !dup {
				extra[key] = value
			}
			continue
		}
		if _, dup := fields[field]; !dup {
			fields[field] = value
		}
	}
	return fields, extra
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
