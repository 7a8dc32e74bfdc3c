// Package parser reads rendered detail pages: visible text lines, headings
// and document links. It does no field interpretation.
package parser

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// HTMLParser extracts text and links from a rendered HTML snapshot
type HTMLParser struct {
	baseURL        *url.URL
	allowedSchemes []string
}

// ParseResult contains the parsed HTML data
type ParseResult struct {
	Title string   // Document <title>
	H1    []string // Visible h1 texts in document order
	H2    []string
	Lines []string // Visible text split at block boundaries
	Links []Link
}

// Link represents a parsed link
type Link struct {
	URL        string
	AnchorText string
	IsExternal bool
	Kind       string // Document kind (pdf, doc, xls, other) or empty for pages
}

// Attachments returns the links that point at downloadable documents
func (r *ParseResult) Attachments() []Link {
	var out []Link
	seen := make(map[string]bool)
	for _, l := range r.Links {
		if l.Kind == "" || seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		out = append(out, l)
	}
	return out
}

// NewHTMLParser creates a new HTML parser with default allowed schemes
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	return NewHTMLParserWithSchemes(baseURL, []string{"https://", "http://"})
}

// NewHTMLParserWithSchemes creates a new HTML parser with custom allowed schemes
func NewHTMLParserWithSchemes(baseURL string, allowedSchemes []string) (*HTMLParser, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if len(allowedSchemes) == 0 {
		allowedSchemes = []string{"https://", "http://"}
	}

	return &HTMLParser{
		baseURL:        parsedURL,
		allowedSchemes: allowedSchemes,
	}, nil
}

// Parse parses a serialized DOM
func (p *HTMLParser) Parse(htmlContent string) (*ParseResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := &ParseResult{}
	w := &lineWriter{}
	p.traverse(doc, result, w)
	w.flush()
	result.Lines = w.lines
	return result, nil
}

// skipped elements never contribute visible text
var skipped = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true,
	"template": true, "svg": true, "iframe": true,
}

// block elements start a new text line
var block = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "label": true, "legend": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
	"br": true, "button": true, "option": true,
}

// traverse recursively walks the HTML tree
func (p *HTMLParser) traverse(n *html.Node, result *ParseResult, w *lineWriter) {
	switch n.Type {
	case html.TextNode:
		w.write(n.Data)
		return
	case html.ElementNode:
		if n.Data == "title" {
			result.Title = collapse(extractText(n))
			return
		}
		if n.Data == "head" {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "title" {
					result.Title = collapse(extractText(c))
				}
			}
			return
		}
		if skipped[n.Data] || isHidden(n) {
			return
		}
		switch n.Data {
		case "h1":
			if t := collapse(extractText(n)); t != "" {
				result.H1 = append(result.H1, t)
			}
		case "h2":
			if t := collapse(extractText(n)); t != "" {
				result.H2 = append(result.H2, t)
			}
		case "a":
			p.parseAnchor(n, result)
		}
	}

	isBlock := n.Type == html.ElementNode && block[n.Data]
	if isBlock {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.traverse(c, result, w)
	}
	if isBlock {
		w.flush()
	}
}

// parseAnchor extracts links from anchor tags
func (p *HTMLParser) parseAnchor(n *html.Node, result *ParseResult) {
	href := attr(n, "href")
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return
	}

	// Early scheme validation before URL resolution
	if !p.isAllowedScheme(href) {
		return
	}

	absURL, err := p.resolveURL(href)
	if err != nil || !p.isAllowedScheme(absURL) {
		return
	}
	parsedURL, err := url.Parse(absURL)
	if err != nil {
		return
	}

	anchorText := collapse(extractText(n))
	kind := LinkKind(absURL)
	if kind == "" && attr(n, "download") != "" {
		kind = LinkKind(attr(n, "download"))
		if kind == "" {
			kind = "other"
		}
	}

	result.Links = append(result.Links, Link{
		URL:        absURL,
		AnchorText: anchorText,
		IsExternal: parsedURL.Host != p.baseURL.Host,
		Kind:       kind,
	})
}

// resolveURL converts relative URLs to absolute URLs
func (p *HTMLParser) resolveURL(href string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return p.baseURL.ResolveReference(u).String(), nil
}

// isAllowedScheme checks if the URL has an allowed scheme
func (p *HTMLParser) isAllowedScheme(href string) bool {
	if strings.Contains(href, "://") {
		for _, scheme := range p.allowedSchemes {
			if strings.HasPrefix(href, scheme) {
				return true
			}
		}
		return false
	}

	// mailto:, tel: and friends
	if strings.Contains(href, ":") && !strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "?") {
		return false
	}

	return true
}

// LinkKind classifies a document URL or file name by extension. Ordinary
// pages return an empty kind.
func LinkKind(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".pdf":
		return "pdf"
	case ".doc", ".docx", ".rtf", ".odt":
		return "doc"
	case ".xls", ".xlsx", ".csv", ".ods":
		return "xls"
	case ".zip", ".ppt", ".pptx", ".txt":
		return "other"
	}
	return ""
}

// SplitLines normalises browser-rendered text into trimmed, non-empty lines
func SplitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = collapse(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// extractText recursively extracts text content from a node
func extractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return ""
	}

	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(" ")
		sb.WriteString(extractText(c))
	}
	return sb.String()
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			s := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// lineWriter accumulates inline text until a block boundary
type lineWriter struct {
	current strings.Builder
	lines   []string
}

func (w *lineWriter) write(s string) {
	w.current.WriteString(s)
}

func (w *lineWriter) flush() {
	if line := collapse(w.current.String()); line != "" {
		w.lines = append(w.lines, line)
	}
	w.current.Reset()
}
