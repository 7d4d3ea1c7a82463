package sites

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

const stolnipocitaceNext = "li#pagination_next a"

var (
	stolnipocitaceDetail = regexp.MustCompile(`(?i)/[a-z0-9-]+/\d{4,}-[a-z0-9-]+\.html`)
	coresCount           = regexp.MustCompile(`(?i)(\d+)\s*(?:jader|jádra|cores)`)
	decimalGHz           = regexp.MustCompile(`(?i)(\d+[.,]\d+)\s*GHz`)
)

// Stolnipocitace crawls stolnipocitace.cz. Its listing pages paginate
// through a script-driven "next" control, so pagination is a click.
type Stolnipocitace struct{}

// RecognizesDetailURL implements crawler.Strategy.
func (Stolnipocitace) RecognizesDetailURL(raw string) bool {
	if _, ok := parseHTTP(raw); !ok {
		return false
	}
	return stolnipocitaceDetail.MatchString(raw)
}

// ExtractDetailFields implements crawler.Strategy.
func (Stolnipocitace) ExtractDetailFields(doc *crawler.Document) (crawler.Record, error) {
	rec := crawler.Record{}

	if price := doc.Find(`p.our_price_display span#our_price_display.price[itemprop="price"]`).First(); price.Length() > 0 {
		content := strings.TrimSpace(price.AttrOr("content", ""))
		if f, err := strconv.ParseFloat(content, 64); content != "" && err == nil {
			rec.Set(crawler.FieldPrice, f)
		} else {
			rec.Set(crawler.FieldPrice, cleanText(price.Text()))
		}
	}

	if rte := doc.Find("div.rte").First(); rte.Length() > 0 {
		rte.Find("b").Each(func(_ int, b *goquery.Selection) {
			label := strings.ToLower(strings.TrimRight(cleanText(b.Text()), ":"))
			value := boldValue(b)
			switch {
			case strings.Contains(label, "procesor"):
				rec.Set(crawler.FieldProcessorModel, value)
			case strings.Contains(label, "operační systém"), strings.Contains(label, "operacni system"):
				rec.Set(crawler.FieldOperatingSystem, value)
			case strings.Contains(label, "grafika"), strings.Contains(label, "grafická karta"):
				rec.Set(crawler.FieldGPUModel, value)
			case strings.Contains(label, "pevný disk"), strings.Contains(label, "pevny disk"):
				rec.Set(crawler.FieldStorageCapacity, value)
			case strings.Contains(label, "paměť"), strings.Contains(label, "pamet"):
				rec.Set(crawler.FieldRAMSize, value)
			}
		})
		for _, line := range lines(rte.Nodes[0]) {
			if strings.HasPrefix(strings.ToLower(line), "zdroj") {
				rec.Set(crawler.FieldPowerSupply, strings.TrimSpace(line[len("zdroj"):]))
				break
			}
		}
	}

	doc.Find("table.table-data-sheet").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td, th")
		if cells.Length() != 2 {
			return
		}
		label := strings.ToLower(cleanText(cells.Eq(0).Text()))
		value := cleanText(cells.Eq(1).Text())
		switch {
		case strings.Contains(label, "procesor"):
			rec.Set(crawler.FieldProcessorModel, value)
		case strings.Contains(label, "operační systém"), strings.Contains(label, "operacni system"):
			rec.Set(crawler.FieldOperatingSystem, value)
		case strings.Contains(label, "grafická karta"), strings.Contains(label, "graficka karta"):
			rec.Set(crawler.FieldGPUModel, value)
		case strings.Contains(label, "pevný disk"), strings.Contains(label, "pevny disk"):
			rec.Set(crawler.FieldStorageCapacity, value)
		case strings.Contains(label, "paměť"):
			rec.Set(crawler.FieldRAMSize, value)
		case strings.Contains(label, "použití pc"), strings.Contains(label, "pouziti pc"):
			rec.Set(crawler.FieldFormFactor, value)
		}
	})

	if model, ok := rec[crawler.FieldProcessorModel].(string); ok {
		if m := coresCount.FindStringSubmatch(model); m != nil {
			rec.Set(crawler.FieldProcessorCores, m[1])
		}
		if m := decimalGHz.FindStringSubmatch(model); m != nil {
			rec.Set(crawler.FieldProcessorFrequency, m[1]+" GHz")
		}
	}
	return rec, nil
}

// NextListingURL implements crawler.Strategy. It asks the loader to click
// the next control while it exists and is not disabled.
func (Stolnipocitace) NextListingURL(_ context.Context, _ string, doc *crawler.Document) (crawler.NextPage, bool, error) {
	next := doc.Find(stolnipocitaceNext).First()
	if next.Length() == 0 || next.Closest("li").HasClass("disabled") {
		return crawler.NextPage{}, false, nil
	}
	return crawler.NextPage{Action: &crawler.PageAction{ClickSelector: stolnipocitaceNext}}, true, nil
}

// boldValue is the text directly following a <b> label.
func boldValue(b *goquery.Selection) string {
	next := b.Nodes[0].NextSibling
	if next == nil || next.Type != html.TextNode {
		return ""
	}
	return strings.Trim(next.Data, " :\n\r\t")
}

// lines returns the text of n split at <br> elements, trimmed.
func lines(n *html.Node) []string {
	var (
		out []string
		cur strings.Builder
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				cur.WriteString(c.Data)
			case c.Type == html.ElementNode && c.Data == "br":
				out = append(out, strings.TrimSpace(cur.String()))
				cur.Reset()
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return append(out, strings.TrimSpace(cur.String()))
}
