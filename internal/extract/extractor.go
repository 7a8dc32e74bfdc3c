// Package extract turns rendered detail pages into records. Strategies run
// in a fixed order and the first non-empty value wins per field: label
// adjacency over visible lines, two-column DOM pairs, patterns, then
// inference for whatever is still missing.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/masahif/oppcrawl/internal/ai"
	"github.com/masahif/oppcrawl/internal/config"
	"github.com/masahif/oppcrawl/internal/crawler"
	"github.com/masahif/oppcrawl/internal/parser"
)

const (
	defaultMaxInputChars = 48000
	// maxPDFBytes is the largest document sent for inference
	maxPDFBytes = 32 << 20
)

// Options configures an Extractor for one site profile
type Options struct {
	Kind          string // config.KindOpportunity or config.KindLeadership
	Brand         string
	ExtraLabels   map[string]string
	MaxInputChars int
}

// Extractor implements crawler.Extractor
type Extractor struct {
	opts   Options
	labels *labelSet
	ai     ai.Inferrer
}

// New creates an extractor. inferrer may be nil, which disables the
// inference step.
func New(opts Options, inferrer ai.Inferrer) *Extractor {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = defaultMaxInputChars
	}
	if opts.Kind == "" {
		opts.Kind = config.KindOpportunity
	}
	return &Extractor{
		opts:   opts,
		labels: newLabelSet(opts.ExtraLabels),
		ai:     inferrer,
	}
}

// Extract never fails. When every strategy comes up empty the record holds
// the identity fields only.
func (e *Extractor) Extract(ctx context.Context, page crawler.RenderedPage, hint crawler.ExtractContext) (rec crawler.Record) {
	identity := crawler.Record{NaturalID: hint.NaturalID, SourceURL: page.URL}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Extraction panicked", "natural_id", hint.NaturalID, "url", page.URL, "panic", r)
			rec = identity
		}
	}()

	if page.Kind == crawler.KindPDF {
		return e.extractPDF(ctx, page, identity)
	}
	return e.extractHTML(ctx, page, hint, identity)
}

func (e *Extractor) extractHTML(ctx context.Context, page crawler.RenderedPage, hint crawler.ExtractContext, rec crawler.Record) crawler.Record {
	parsed := &parser.ParseResult{}
	if p, err := parser.NewHTMLParser(page.URL); err == nil {
		if r, err := p.Parse(page.HTML); err == nil {
			parsed = r
		} else {
			slog.Debug("HTML parse failed", "url", page.URL, "error", err)
		}
	}

	lines := parser.SplitLines(page.Text)
	if len(lines) == 0 {
		lines = parsed.Lines
	}

	fields := e.labels.scanLines(lines)
	domFields, extra := scanDOM(page.HTML, e.labels.extra)
	for f, v := range domFields {
		if fields[f] == "" {
			fields[f] = v
		}
	}
	for f, v := range fields {
		fields[f] = clean(v)
	}

	headings := make(map[string]bool)
	for _, h := range append(parsed.H1, parsed.H2...) {
		headings[h] = true
	}
	criteria, description := sections(lines, e.labels, headings)

	rec.Buyer = fields[FieldBuyer]
	rec.PublishDate = fields[FieldPublishDate]
	rec.ClosingDate = fields[FieldClosingDate]
	rec.StatusLabel = fields[FieldStatus]
	rec.ContactText = fields[FieldContactText]
	rec.Location = fields[FieldLocation]
	// A named section carries the whole body; the label scan only its first line
	rec.Description = description
	if rec.Description == "" {
		rec.Description = fields[FieldDescription]
	}
	rec.Criteria = criteria
	rec.ContactEmail = pickEmail(fields[FieldContactEmail], rec.ContactText, strings.Join(lines, "\n"))
	rec.Attachments = attachments(parsed)
	if len(extra) > 0 {
		rec.Extra = extra
	}

	// Headings outrank a labelled title, which outranks body lines and the listing
	rec.Title = ResolveTitle(parsed.H1, parsed.H2, nil, e.opts.Brand, "", e.labels)
	if t := fields[FieldTitle]; rec.Title == "" && t != "" && !isNoise(t) {
		rec.Title = t
	}
	if rec.Title == "" {
		rec.Title = ResolveTitle(nil, nil, lines, e.opts.Brand, hint.HintTitle, e.labels)
	}

	if e.ai != nil && (len(rec.MissingRequired()) > 0 || e.opts.Kind == config.KindLeadership) {
		text := truncate(strings.Join(lines, "\n"), e.opts.MaxInputChars)
		if strings.TrimSpace(text) != "" {
			prompt := fmt.Sprintf("%s\n\nDocument:\n%s", e.prompt(), text)
			rec.FillMissing(e.infer(ctx, prompt, nil, hint.NaturalID))
		}
	}
	return rec
}

func (e *Extractor) extractPDF(ctx context.Context, page crawler.RenderedPage, rec crawler.Record) crawler.Record {
	if e.ai == nil || len(page.Data) == 0 {
		return rec
	}
	if len(page.Data) > maxPDFBytes {
		slog.Warn("PDF too large for inference", "url", page.URL, "bytes", len(page.Data))
		return rec
	}
	rec.FillMissing(e.infer(ctx, e.prompt(), ai.PDF(page.Data), rec.NaturalID))
	return rec
}

// infer runs one inference and keeps only genuine values. Failures leave the
// fields empty.
func (e *Extractor) infer(ctx context.Context, prompt string, doc *ai.Document, naturalID string) crawler.Record {
	reply, err := e.ai.Infer(ctx, prompt, doc)
	if err != nil {
		slog.Warn("Inference failed", "natural_id", naturalID, "error", err)
		return crawler.Record{}
	}
	out := parseReply(reply)
	if e.opts.Kind != config.KindLeadership {
		out.People = nil
	}
	return out
}

func (e *Extractor) prompt() string {
	if e.opts.Kind == config.KindLeadership {
		return leadershipPrompt
	}
	return opportunityPrompt
}

// pickEmail prefers an address in the labelled email value, then in the
// contact text, then anywhere on the page
func pickEmail(sources ...string) string {
	for _, s := range sources {
		if found := FindEmails(s); len(found) > 0 {
			return found[0]
		}
	}
	return ""
}

func attachments(parsed *parser.ParseResult) []crawler.Attachment {
	var out []crawler.Attachment
	for _, l := range parsed.Attachments() {
		name := l.AnchorText
		if name == "" {
			if u, err := url.Parse(l.URL); err == nil {
				name = path.Base(u.Path)
			}
		}
		out = append(out, crawler.Attachment{Name: name, URL: l.URL, Kind: l.Kind})
	}
	return out
}
