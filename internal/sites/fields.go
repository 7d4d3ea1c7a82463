package sites

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

var (
	nonNumeric = regexp.MustCompile(`[^\d.]`)
	coresWord  = regexp.MustCompile(`(?i)([\p{L}\p{N}_]+?(?:jádrový|jader))(?:[^\p{L}\p{N}_]|$)`)
	ghzValue   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*ghz`)
	mhzValue   = regexp.MustCompile(`(?i)(\d+)\s*mhz`)
)

var processorMarkers = []string{"intel", "amd", "apple", "ryzen", "core", "m1", "m2", "m4"}

// ParseFloat reads a number out of free text such as "3,2 GHz". The text is
// lower-cased, the listed fragments are removed and a decimal comma becomes
// a dot. It returns nil when nothing numeric remains.
func ParseFloat(value string, remove ...string) *float64 {
	value = strings.ToLower(value)
	for _, r := range remove {
		value = strings.ReplaceAll(value, strings.ToLower(r), "")
	}
	value = strings.ReplaceAll(value, ",", ".")
	value = nonNumeric.ReplaceAllString(value, "")
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ParseInt is ParseFloat truncated toward zero.
func ParseInt(value string, remove ...string) *int {
	f := ParseFloat(value, remove...)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// Processor is what a single "processor" cell usually packs together.
type Processor struct {
	Model     string
	Cores     string
	Frequency *float64
}

// ParseProcessor splits a combined processor description like
// "Intel Core i7-14700K (dvacetijádrový) 3,4 GHz" into its parts. The
// model is the whole text when it names a known vendor or family.
func ParseProcessor(text string) Processor {
	var p Processor
	lower := strings.ToLower(text)
	for _, m := range processorMarkers {
		if strings.Contains(lower, m) {
			p.Model = strings.TrimSpace(text)
			break
		}
	}
	if m := coresWord.FindStringSubmatch(text); m != nil {
		p.Cores = m[1]
	}
	if m := ghzValue.FindStringSubmatch(text); m != nil {
		p.Frequency = ParseFloat(m[1])
	} else if m := mhzValue.FindStringSubmatch(text); m != nil {
		if mhz := ParseFloat(m[1]); mhz != nil {
			ghz := *mhz / 1000
			p.Frequency = &ghz
		}
	}
	return p
}

type tableParam struct {
	label   string
	field   crawler.Field
	numeric bool
}

// Checked in order; the first label contained in the row header wins.
var propertyTableParams = []tableParam{
	{"grafická karta", crawler.FieldGPUModel, false},
	{"velikost paměti vga", crawler.FieldGPUMemory, true},
	{"typ úložiště", crawler.FieldStorageType, false},
	{"kapacita úložiště", crawler.FieldStorageCapacity, true},
	{"velikost paměti ram", crawler.FieldRAMSize, true},
	{"zdroj", crawler.FieldPowerSupply, true},
	{"provedení počítače", crawler.FieldFormFactor, false},
	{"operační systém", crawler.FieldOperatingSystem, false},
	{"značky", crawler.FieldBrand, false},
}

// PropertyTables reads the div.product-property-table layout shared by
// several Czech shops: th carries the label (often in span[title]), td the
// value. The div.product-price data-price-value attribute supplies the price.
func PropertyTables(doc *crawler.Document) crawler.Record {
	rec := crawler.Record{}
	doc.Find("div.product-property-table tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		label, ok := th.Find("span[title]").First().Attr("title")
		if !ok {
			label = th.Text()
		}
		label = strings.ToLower(cleanText(label))
		value := cleanText(td.Text())

		switch {
		case strings.Contains(label, "počet jader"):
			rec.Set(crawler.FieldProcessorCores, value)
		case strings.Contains(label, "frekvence procesoru"):
			rec.Set(crawler.FieldProcessorFrequency, ParseFloat(value, "ghz"))
		case strings.Contains(label, "procesor"):
			p := ParseProcessor(value)
			rec.Set(crawler.FieldProcessorModel, p.Model)
			rec.Set(crawler.FieldProcessorCores, p.Cores)
			rec.Set(crawler.FieldProcessorFrequency, p.Frequency)
		default:
			for _, param := range propertyTableParams {
				if !strings.Contains(label, param.label) {
					continue
				}
				if param.numeric {
					rec.Set(param.field, ParseInt(value))
				} else {
					rec.Set(param.field, value)
				}
				break
			}
		}
	})
	if v, ok := doc.AttrOf("div.product-price", "data-price-value"); ok {
		rec.Set(crawler.FieldPrice, ParseInt(v))
	}
	return rec
}

// cleanText collapses runs of whitespace, no-break spaces included, to a
// single space.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
