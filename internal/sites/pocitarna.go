package sites

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

var pocitarnaDetailPath = regexp.MustCompile(`(?i)/pocitace/[^/]+-\d+/?$`)

// Pocitarna crawls pocitarna.cz, whose parameters are div.fv-parameter
// blocks keyed by a data-param attribute.
type Pocitarna struct{}

// RecognizesDetailURL implements crawler.Strategy.
func (Pocitarna) RecognizesDetailURL(raw string) bool {
	u, ok := parseHTTP(raw)
	return ok && pocitarnaDetailPath.MatchString(u.Path)
}

// ExtractDetailFields implements crawler.Strategy.
func (Pocitarna) ExtractDetailFields(doc *crawler.Document) (crawler.Record, error) {
	rec := crawler.Record{}

	if price := doc.Find("strong.price-final[data-testid='productCardPrice']").First(); price.Length() > 0 {
		text := strings.NewReplacer("Kč", "", "\u00a0", "", " ", "").Replace(strings.TrimSpace(price.Text()))
		if n, err := strconv.Atoi(text); err == nil && n >= 0 {
			rec.Set(crawler.FieldPrice, n)
		}
	}

	doc.Find("div.fv-parameter").Each(func(_ int, param *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(param.AttrOr("data-param", "")))
		valueEl := param.Find("div.value").First()
		if key == "" || valueEl.Length() == 0 {
			return
		}
		value := cleanText(valueEl.Text())

		switch {
		case strings.Contains(key, "model procesoru"):
			rec.Set(crawler.FieldProcessorModel, value)
		case strings.Contains(key, "frekvence procesoru"):
			rec.Set(crawler.FieldProcessorFrequency, value)
		case strings.Contains(key, "počet jader"):
			rec.Set(crawler.FieldProcessorCores, value)
		case strings.Contains(key, "operační paměť velikost"):
			rec.Set(crawler.FieldRAMSize, value)
		case strings.Contains(key, "integrovaná grafická karta"):
			rec.Set(crawler.FieldGPUModel, value)
		case strings.Contains(key, "operační systém"):
			rec.Set(crawler.FieldOperatingSystem, value)
		case strings.Contains(key, "značka"):
			rec.Set(crawler.FieldBrand, value)
		case strings.Contains(key, "úložiště"):
			lower := strings.ToLower(value)
			if strings.Contains(lower, "ssd") || strings.Contains(lower, "hdd") {
				rec.Set(crawler.FieldStorageType, value)
			} else {
				rec.Set(crawler.FieldStorageCapacity, value)
			}
		case strings.Contains(key, "provedení"):
			rec.Set(crawler.FieldFormFactor, value)
		}
	})
	return rec, nil
}

// NextListingURL implements crawler.Strategy.
func (Pocitarna) NextListingURL(_ context.Context, currentURL string, doc *crawler.Document) (crawler.NextPage, bool, error) {
	next, ok := nextByLink(currentURL, doc, "a.next.pagination-link[href]")
	return next, ok, nil
}
