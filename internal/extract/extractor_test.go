package extract

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/oppcrawl/internal/ai"
	"github.com/masahif/oppcrawl/internal/config"
	"github.com/masahif/oppcrawl/internal/crawler"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

type fakeInferrer struct {
	reply   string
	err     error
	prompts []string
	docs    []*ai.Document
}

func (f *fakeInferrer) Infer(_ context.Context, prompt string, doc *ai.Document) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.docs = append(f.docs, doc)
	return f.reply, f.err
}

const opportunityHTML = `<html><head><title>ATM-1042 | BuyICT</title></head><body>
<header><h1>BuyICT</h1></header>
<main>
	<h2>Cloud hosting services for records</h2>
	<dl>
		<dt>Buyer</dt><dd>Digital Transformation Agency</dd>
		<dt>Closing date</dt><dd>30 November 2026</dd>
		<dt>Reference</dt><dd>ATM-1042</dd>
	</dl>
	<table><tr><th>Location</th><td>Canberra, ACT</td></tr></table>
	<p>Contact officer</p><p>Jane Citizen, procurement@dta.gov.au</p>
	<h3>Essential criteria</h3>
	<ul><li>Experience with records management</li><li>Baseline clearance</li></ul>
	<p>Status</p><p>Open</p>
	<ul><li><a href="/files/atm.pdf">Approach to market</a></li></ul>
</main>
</body></html>`

const detailURL = "https://www.buyict.gov.au/opportunities/ATM-1042"

func htmlPage(html string) crawler.RenderedPage {
	return crawler.RenderedPage{URL: detailURL, Kind: crawler.KindHTML, HTML: html}
}

func TestExtractHTML(t *testing.T) {
	inf := &fakeInferrer{}
	e := New(Options{Brand: "BuyICT"}, inf)

	rec := e.Extract(context.Background(), htmlPage(opportunityHTML),
		crawler.ExtractContext{Kind: crawler.KindHTML, NaturalID: "ATM-1042", HintTitle: "Cloud hosting"})

	assert.Equal(t, "ATM-1042", rec.NaturalID)
	assert.Equal(t, detailURL, rec.SourceURL)
	assert.Equal(t, "Cloud hosting services for records", rec.Title)
	assert.Equal(t, "Digital Transformation Agency", rec.Buyer)
	assert.Equal(t, "30 November 2026", rec.ClosingDate)
	assert.Equal(t, "Canberra, ACT", rec.Location)
	assert.Equal(t, "Open", rec.StatusLabel)
	assert.Equal(t, "Jane Citizen, procurement@dta.gov.au", rec.ContactText)
	assert.Equal(t, "procurement@dta.gov.au", rec.ContactEmail)
	assert.Equal(t, []string{"Experience with records management", "Baseline clearance"}, rec.Criteria)
	assert.Equal(t, map[string]string{"reference": "ATM-1042"}, rec.Extra)
	assert.Equal(t, []crawler.Attachment{
		{Name: "Approach to market", URL: "https://www.buyict.gov.au/files/atm.pdf", Kind: "pdf"},
	}, rec.Attachments)
	assert.Equal(t, crawler.CompletenessFull, rec.Completeness())

	assert.Empty(t, inf.prompts, "complete pages are not sent for inference")
}

func TestExtractPrefersRenderedText(t *testing.T) {
	page := htmlPage(`<html><body><h2>Data platform uplift</h2></body></html>`)
	page.Text = "Data platform uplift\nBuyer\nServices Australia\nClosing date\n2 February 2027"

	rec := New(Options{}, nil).Extract(context.Background(), page, crawler.ExtractContext{NaturalID: "X"})

	assert.Equal(t, "Services Australia", rec.Buyer)
	assert.Equal(t, "2 February 2027", rec.ClosingDate)
	assert.Equal(t, "Data platform uplift", rec.Title)
}

func TestExtractTitleFallsBackToListing(t *testing.T) {
	html := `<html><body><h1>BuyICT</h1><p>You are logged in as Guest</p>
		<dl><dt>Closing date</dt><dd>30 November 2026</dd></dl></body></html>`

	rec := New(Options{Brand: "BuyICT"}, nil).Extract(context.Background(), htmlPage(html),
		crawler.ExtractContext{NaturalID: "ATM-7", HintTitle: "Deploy cloud migration SME"})

	assert.Equal(t, "Deploy cloud migration SME", rec.Title)
}

func TestExtractHeadingOutranksNameLabel(t *testing.T) {
	html := `<html><body><h1>Deploy cloud migration SME services</h1>
		<dl><dt>Name</dt><dd>Jane Citizen</dd><dt>Buyer</dt><dd>Department of Finance</dd></dl></body></html>`

	rec := New(Options{}, nil).Extract(context.Background(), htmlPage(html),
		crawler.ExtractContext{NaturalID: "ATM-9", HintTitle: "Cloud migration"})

	assert.Equal(t, "Deploy cloud migration SME services", rec.Title)
	assert.Equal(t, "Department of Finance", rec.Buyer)
}

func TestExtractLabelledTitleWithoutHeading(t *testing.T) {
	html := `<html><body><h1>BuyICT</h1>
		<dl><dt>Opportunity title</dt><dd>Records digitisation panel</dd></dl></body></html>`

	rec := New(Options{Brand: "BuyICT"}, nil).Extract(context.Background(), htmlPage(html),
		crawler.ExtractContext{NaturalID: "ATM-10", HintTitle: "Records panel"})

	assert.Equal(t, "Records digitisation panel", rec.Title)
}

func TestExtractInfersMissingFields(t *testing.T) {
	inf := &fakeInferrer{reply: `Sure. {"title": "Something else", "buyer": "Not mentioned",
		"closingDate": "1 December 2026", "criteria": ["Cloud certification"]}`}
	html := `<html><body><h2>Managed security services</h2><p>Location</p><p>Perth</p></body></html>`

	rec := New(Options{}, inf).Extract(context.Background(), htmlPage(html), crawler.ExtractContext{NaturalID: "S-1"})

	assert.Equal(t, "Managed security services", rec.Title, "page values win over inferred ones")
	assert.Empty(t, rec.Buyer, "placeholders never become values")
	assert.Equal(t, "1 December 2026", rec.ClosingDate)
	assert.Equal(t, "Perth", rec.Location)
	assert.Equal(t, []string{"Cloud certification"}, rec.Criteria)

	require.Len(t, inf.prompts, 1)
	assert.Contains(t, inf.prompts[0], `"closingDate"`)
	assert.Contains(t, inf.prompts[0], "Managed security services\nLocation\nPerth")
	assert.Nil(t, inf.docs[0])
}

func TestExtractTruncatesInput(t *testing.T) {
	inf := &fakeInferrer{reply: "{}"}
	page := htmlPage("")
	page.Text = "Line one of the page\nLine two of the page"

	New(Options{MaxInputChars: 10}, inf).Extract(context.Background(), page, crawler.ExtractContext{})

	require.Len(t, inf.prompts, 1)
	assert.Contains(t, inf.prompts[0], "Document:\nLine one o")
	assert.NotContains(t, inf.prompts[0], "Line two")
}

func TestExtractInferenceFailureKeepsPageValues(t *testing.T) {
	inf := &fakeInferrer{err: errors.New("upstream 529")}
	html := `<html><body><h2>Managed security services</h2></body></html>`

	rec := New(Options{}, inf).Extract(context.Background(), htmlPage(html), crawler.ExtractContext{NaturalID: "S-1"})

	assert.Equal(t, "S-1", rec.NaturalID)
	assert.Equal(t, "Managed security services", rec.Title)
	assert.Empty(t, rec.Buyer)
	assert.Len(t, inf.prompts, 1)
}

func TestExtractPDF(t *testing.T) {
	inf := &fakeInferrer{reply: `{"title":"Panel refresh","buyer":"ATO","closingDate":"2026-12-01","people":[{"name":"Ada Lovelace"}]}`}
	page := crawler.RenderedPage{URL: "https://x.gov.au/atm.pdf", Kind: crawler.KindPDF, Data: []byte("%PDF-1.7")}

	rec := New(Options{}, inf).Extract(context.Background(), page, crawler.ExtractContext{Kind: crawler.KindPDF, NaturalID: "P-1"})

	assert.Equal(t, crawler.Record{
		NaturalID:   "P-1",
		SourceURL:   "https://x.gov.au/atm.pdf",
		Title:       "Panel refresh",
		Buyer:       "ATO",
		ClosingDate: "2026-12-01",
	}, rec, "people are only kept for leadership pages")
	require.Len(t, inf.docs, 1)
	assert.Equal(t, ai.PDF([]byte("%PDF-1.7")), inf.docs[0])
	assert.Equal(t, opportunityPrompt, inf.prompts[0])
}

func TestExtractPDFWithoutInference(t *testing.T) {
	page := crawler.RenderedPage{URL: "https://x.gov.au/atm.pdf", Kind: crawler.KindPDF, Data: []byte("%PDF-1.7")}

	rec := New(Options{}, nil).Extract(context.Background(), page, crawler.ExtractContext{NaturalID: "P-1"})

	assert.Equal(t, crawler.Record{NaturalID: "P-1", SourceURL: "https://x.gov.au/atm.pdf"}, rec)
}

func TestExtractLeadership(t *testing.T) {
	inf := &fakeInferrer{reply: `{"people":[
		{"name":"Ada Lovelace","title":"Chief Executive","email":"ada@agency.gov.au"},
		{"name":"Not mentioned","title":"Executive"}]}`}
	html := `<html><body><h1>Our leadership team</h1><dl><dt>Organisation</dt><dd>Agency</dd>
		<dt>Closing date</dt><dd>n/a</dd></dl></body></html>`

	rec := New(Options{Kind: config.KindLeadership}, inf).Extract(context.Background(), htmlPage(html),
		crawler.ExtractContext{NaturalID: "team"})

	require.Len(t, inf.prompts, 1, "leadership pages always ask for people")
	assert.Contains(t, inf.prompts[0], `"people"`)
	assert.Equal(t, []crawler.Person{{Name: "Ada Lovelace", Title: "Chief Executive", Email: "ada@agency.gov.au"}}, rec.People)
	assert.Equal(t, "Our leadership team", rec.Title)
	assert.Equal(t, "Agency", rec.Buyer)
	assert.Empty(t, rec.ClosingDate, "placeholder page values are dropped too")
}
