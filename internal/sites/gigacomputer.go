package sites

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

// Gigacomputer crawls gigacomputer.cz. Specifications come in titled
// parameter blocks of name/value rows and are kept as displayed.
type Gigacomputer struct{}

// ListingNormalizeOptions keeps pagination queries significant.
func (Gigacomputer) ListingNormalizeOptions() crawler.NormalizeOptions {
	return crawler.NormalizeOptions{KeepQuery: true}
}

// DetailNormalizeOptions implements crawler.NormalizationPolicy.
func (Gigacomputer) DetailNormalizeOptions() crawler.NormalizeOptions {
	return crawler.NormalizeOptions{}
}

// RecognizesDetailURL implements crawler.Strategy.
func (Gigacomputer) RecognizesDetailURL(raw string) bool {
	u, ok := parseHTTP(raw)
	if !ok {
		return false
	}
	return strings.Contains(u.Path, "/zbozi/") && strings.HasSuffix(strings.ToLower(u.Path), ".html")
}

// ExtractDetailFields implements crawler.Strategy.
func (Gigacomputer) ExtractDetailFields(doc *crawler.Document) (crawler.Record, error) {
	rec := crawler.Record{}
	doc.Find("div#parameters div.parameter").Each(func(_ int, block *goquery.Selection) {
		title := strings.ToLower(cleanText(block.Find("div.title").First().Text()))
		params := map[string]string{}
		block.Find("div.item").Each(func(_ int, item *goquery.Selection) {
			name := item.Find("span.name").First()
			value := item.Find("span.value").First()
			if name.Length() == 0 || value.Length() == 0 {
				return
			}
			params[cleanText(name.Text())] = cleanText(value.Text())
		})
		if title == "" || len(params) == 0 {
			return
		}

		switch title {
		case "procesor":
			rec.Set(crawler.FieldProcessorModel, joinNonEmpty(params["Výrobce"], params["Modelová řada"], params["Typ"]))
			rec.Set(crawler.FieldProcessorCores, params["Počet jader"])
			rec.Set(crawler.FieldProcessorFrequency, params["Frekvence"])
		case "grafická karta":
			rec.Set(crawler.FieldGPUModel, joinNonEmpty(params["Modelová řada"], params["Typ"]))
			rec.Set(crawler.FieldGPUMemory, params["Vlastní paměť"])
		case "pevný disk":
			capacity := params["Celková kapacita"]
			if capacity == "" {
				capacity = params["Kapacita SSD"]
			}
			rec.Set(crawler.FieldStorageCapacity, capacity)
			rec.Set(crawler.FieldStorageType, params["Typ"])
		case "operační paměť":
			rec.Set(crawler.FieldRAMSize, params["Celková kapacita"])
		case "velikost":
			rec.Set(crawler.FieldFormFactor, params["Velikost"])
		case "operační systém":
			rec.Set(crawler.FieldOperatingSystem, params["Název"])
		}
	})
	if price, ok := doc.AttrOf("div#priceGroup span[itemprop=price]", "content"); ok {
		rec.Set(crawler.FieldPrice, price)
	}
	return rec, nil
}

// NextListingURL implements crawler.Strategy.
func (Gigacomputer) NextListingURL(_ context.Context, currentURL string, doc *crawler.Document) (crawler.NextPage, bool, error) {
	next, ok := nextByLink(currentURL, doc, "a[rel~=next][href]")
	return next, ok, nil
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
