package sites

import (
	"bytes"
	"context"
	"net/http"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

var datartDetailPaths = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/herni-pocitac-.*\.html`),
	regexp.MustCompile(`(?i)/pc-mini.*\.html`),
	regexp.MustCompile(`(?i)/pocitac-.*\.html`),
	regexp.MustCompile(`(?i)/stolni-pocitac-.*\.html`),
}

const datartProductTile = "div.product-box"

// Datart crawls datart.cz. Listing pages are addressed by a page query
// parameter; the next page is only followed when the current one listed
// products and a probe shows the candidate still has product tiles.
type Datart struct {
	probe  crawler.Fetcher
	logger *zap.Logger
}

// NewDatart builds the datart strategy.
func NewDatart(deps Deps) *Datart {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Datart{probe: deps.Probe, logger: logger.With(zap.String("strategy", "datart"))}
}

// ListingNormalizeOptions keeps the page parameter significant.
func (*Datart) ListingNormalizeOptions() crawler.NormalizeOptions {
	return crawler.NormalizeOptions{KeepQuery: true}
}

// DetailNormalizeOptions implements crawler.NormalizationPolicy.
func (*Datart) DetailNormalizeOptions() crawler.NormalizeOptions {
	return crawler.NormalizeOptions{}
}

// RecognizesDetailURL implements crawler.Strategy.
func (*Datart) RecognizesDetailURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	for _, re := range datartDetailPaths {
		if re.MatchString(u.Path) {
			return true
		}
	}
	return false
}

// ExtractDetailFields implements crawler.Strategy.
func (*Datart) ExtractDetailFields(doc *crawler.Document) (crawler.Record, error) {
	return PropertyTables(doc), nil
}

// NextListingURL implements crawler.Strategy.
func (d *Datart) NextListingURL(ctx context.Context, currentURL string, doc *crawler.Document) (crawler.NextPage, bool, error) {
	if !d.listsProducts(doc) {
		d.logger.Debug("no products on listing page, stopping", zap.String("url", currentURL))
		return crawler.NextPage{}, false, nil
	}
	next, ok := incrementPage(currentURL)
	if !ok {
		return crawler.NextPage{}, false, nil
	}
	if d.probe != nil && !d.hasProducts(ctx, next) {
		return crawler.NextPage{}, false, nil
	}
	return crawler.NextPage{URL: next}, true, nil
}

func (d *Datart) listsProducts(doc *crawler.Document) bool {
	for _, link := range doc.Links() {
		if d.RecognizesDetailURL(link) {
			return true
		}
	}
	return false
}

// hasProducts fetches candidate and checks it for product tiles. Any
// failure ends pagination rather than the crawl.
func (d *Datart) hasProducts(ctx context.Context, candidate string) bool {
	resp, err := d.probe.Fetch(ctx, crawler.FetchRequest{URL: candidate})
	if err != nil {
		d.logger.Info("pagination probe failed", zap.String("url", candidate), zap.Error(err))
		return false
	}
	if resp.StatusCode >= http.StatusBadRequest {
		d.logger.Info("pagination probe rejected",
			zap.String("url", candidate), zap.Int("status", resp.StatusCode))
		return false
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		d.logger.Info("pagination probe unparsable", zap.String("url", candidate), zap.Error(err))
		return false
	}
	if page.Find(datartProductTile).Length() == 0 {
		d.logger.Debug("pagination probe has no products", zap.String("url", candidate))
		return false
	}
	return true
}
