package sites

import (
	"context"
	"regexp"
	"strings"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

var alzaDetailPath = regexp.MustCompile(`-d\d+\.htm$`)

// Alza crawls alza.cz. Products are either "-d<id>.htm" pages or links
// carrying a dq= query.
type Alza struct{}

// RecognizesDetailURL implements crawler.Strategy.
func (Alza) RecognizesDetailURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok || !strings.Contains(strings.ToLower(u.Host), "alza.cz") {
		return false
	}
	return strings.Contains(u.RawQuery, "dq=") || alzaDetailPath.MatchString(u.Path)
}

// ExtractDetailFields implements crawler.Strategy.
func (Alza) ExtractDetailFields(doc *crawler.Document) (crawler.Record, error) {
	return PropertyTables(doc), nil
}

// NextListingURL implements crawler.Strategy.
func (Alza) NextListingURL(_ context.Context, currentURL string, doc *crawler.Document) (crawler.NextPage, bool, error) {
	next, ok := nextByLink(currentURL, doc, "a.next.fa.fa-chevron-right[href]")
	return next, ok, nil
}
