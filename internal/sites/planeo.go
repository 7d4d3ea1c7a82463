package sites

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

var nonDigit = regexp.MustCompile(`\D`)

// Planeo crawls planeo.cz. Only links inside product tiles count as
// products, and the cookie dialog has to be declined before the listing
// renders.
type Planeo struct{}

// ListingNormalizeOptions keeps the offset parameter significant.
func (Planeo) ListingNormalizeOptions() crawler.NormalizeOptions {
	return crawler.NormalizeOptions{KeepQuery: true}
}

// DetailNormalizeOptions implements crawler.NormalizationPolicy.
func (Planeo) DetailNormalizeOptions() crawler.NormalizeOptions {
	return crawler.NormalizeOptions{}
}

// ListingLinkSelector implements crawler.ListingLinkScope.
func (Planeo) ListingLinkSelector() string { return "div.c-product a[href]" }

// DismissSelector implements BannerDismisser.
func (Planeo) DismissSelector() string { return "#CybotCookiebotDialogBodyButtonDecline" }

// RecognizesDetailURL implements crawler.Strategy.
func (Planeo) RecognizesDetailURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok || !strings.Contains(strings.ToLower(u.Host), "planeo") {
		return false
	}
	return strings.Trim(u.Path, "/") != ""
}

// ExtractDetailFields implements crawler.Strategy.
func (Planeo) ExtractDetailFields(doc *crawler.Document) (crawler.Record, error) {
	rec := crawler.Record{}
	doc.Find("div#parameters tr.dfl.jcsb.pr2.w100p").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th.pl1").First()
		td := row.Find("td.pl1").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		label := strings.ToLower(cleanText(th.Text()))
		value := cleanText(td.Text())

		switch {
		case strings.Contains(label, "model procesoru"):
			rec.Set(crawler.FieldProcessorModel, value)
		case strings.Contains(label, "frekvence procesoru"):
			rec.Set(crawler.FieldProcessorFrequency, value)
		case label == "grafika":
			rec.Set(crawler.FieldGPUModel, value)
		case strings.Contains(label, "paměť grafické karty"):
			rec.Set(crawler.FieldGPUMemory, value)
		case strings.Contains(label, "ssd disk"):
			if value != "" {
				rec.Set(crawler.FieldStorageCapacity, value)
				rec.Set(crawler.FieldStorageType, "SSD")
			}
		case strings.Contains(label, "operační paměť gb"):
			rec.Set(crawler.FieldRAMSize, value)
		case strings.Contains(label, "operační systém"):
			rec.Set(crawler.FieldOperatingSystem, value)
		case strings.Contains(label, "výrobce procesoru"):
			rec.Set(crawler.FieldBrand, value)
		}
	})
	if price := doc.Find("span.price-value").First(); price.Length() > 0 {
		if n, err := strconv.Atoi(nonDigit.ReplaceAllString(price.Text(), "")); err == nil {
			rec.Set(crawler.FieldPrice, n)
		}
	}
	return rec, nil
}

// NextListingURL implements crawler.Strategy. Previous and next share the
// arrow markup; the next arrow is the last one on the page.
func (Planeo) NextListingURL(_ context.Context, currentURL string, doc *crawler.Document) (crawler.NextPage, bool, error) {
	href, ok := doc.Find("a.c-pagination__page--arrow.js-product-filter-paging[href]").Last().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return crawler.NextPage{}, false, nil
	}
	next := crawler.Resolve(currentURL, href)
	if next == "" {
		return crawler.NextPage{}, false, nil
	}
	return crawler.NextPage{URL: next}, true, nil
}
