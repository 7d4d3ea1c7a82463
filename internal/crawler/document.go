package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed page plus the URL it was loaded from.
type Document struct {
	URL string
	*goquery.Document
}

// ParseDocument parses HTML loaded from pageURL.
func ParseDocument(pageURL string, body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}
	return &Document{URL: pageURL, Document: doc}, nil
}

// Links returns the absolute targets of every a[href] on the page, in
// document order and without duplicates. Script, mail, phone, data and
// fragment-only links are skipped.
func (d *Document) Links() []string {
	return d.LinksMatching("a[href]")
}

// LinksMatching is Links restricted to the elements matched by selector.
// Matched elements without an href are ignored.
func (d *Document) LinksMatching(selector string) []string {
	base, _ := url.Parse(d.URL)
	seen := make(map[string]struct{})
	var links []string
	d.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if skipLink(href) {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if !ref.IsAbs() {
			return
		}
		abs := ref.String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// TextOf returns the trimmed text of the first match of selector.
func (d *Document) TextOf(selector string) string {
	return strings.TrimSpace(d.Find(selector).First().Text())
}

// AttrOf returns the trimmed attribute of the first match of selector.
func (d *Document) AttrOf(selector, attr string) (string, bool) {
	v, ok := d.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v), ok
}

func skipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "sms:", "data:"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}
