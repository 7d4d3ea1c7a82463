package sites

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

type probeFetcher struct {
	status int
	body   string
	err    error
	calls  []string
}

func (p *probeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	p.calls = append(p.calls, req.URL)
	if p.err != nil {
		return crawler.FetchResponse{}, p.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: p.status, Body: []byte(p.body)}, nil
}

func TestRecognizesDetailURL(t *testing.T) {
	tests := []struct {
		strategy crawler.Strategy
		url      string
		want     bool
	}{
		{Alza{}, "https://www.alza.cz/herni-pc-d7654321.htm", true},
		{Alza{}, "https://www.alza.cz/pocitace?dq=7654321", true},
		{Alza{}, "https://www.alza.cz/pocitace/18842857.htm", false},
		{Alza{}, "https://www.example.com/pc-d7654321.htm", false},
		{Alza{}, "ftp://www.alza.cz/pc-d1.htm", false},

		{&Datart{}, "https://www.datart.cz/herni-pocitac-lenovo-legion.html", true},
		{&Datart{}, "https://www.datart.cz/PC-MINI-asus.html", true},
		{&Datart{}, "https://www.datart.cz/stolni-pocitac-hp.html", true},
		{&Datart{}, "https://www.datart.cz/pocitace.html", false},

		{Gigacomputer{}, "https://www.gigacomputer.cz/zbozi/pc-gaming-123.HTML", true},
		{Gigacomputer{}, "https://www.gigacomputer.cz/kategorie/pc.html", false},
		{Gigacomputer{}, "https://www.gigacomputer.cz/zbozi/pc-gaming-123", false},

		{Planeo{}, "https://www.planeo.cz/hp-victus-15l", true},
		{Planeo{}, "https://www.planeo.cz/", false},
		{Planeo{}, "https://www.alza.cz/hp-victus-15l", false},

		{Pocitarna{}, "https://www.pocitarna.cz/pocitace/dell-optiplex-7080-1234/", true},
		{Pocitarna{}, "https://www.pocitarna.cz/pocitace/dell-optiplex", false},

		{Stolnipocitace{}, "https://www.stolnipocitace.cz/kancelarske-pc/12345-pc-office.html", true},
		{Stolnipocitace{}, "https://www.stolnipocitace.cz/kancelarske-pc/123-pc.html", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.RecognizesDetailURL(tt.url))
		})
	}
}

func TestAlzaNextListingURL(t *testing.T) {
	doc := parse(t, "https://www.alza.cz/pocitace/18842857.htm",
		`<a class="next fa fa-chevron-right" href="/pocitace/18842857-p2.htm">další</a>`)

	next, ok, err := Alza{}.NextListingURL(context.Background(), doc.URL, doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://www.alza.cz/pocitace/18842857-p2.htm", next.URL)
	assert.Nil(t, next.Action)

	last := parse(t, doc.URL, `<a class="prev fa fa-chevron-left" href="/p1">zpět</a>`)
	_, ok, err = Alza{}.NextListingURL(context.Background(), last.URL, last)
	require.NoError(t, err)
	assert.False(t, ok)
}

const datartListing = `<div class="product-box"><a href="/pocitac-hp-elite.html">HP</a></div>`

func TestDatartNextListingURL(t *testing.T) {
	ctx := context.Background()
	current := "https://www.datart.cz/pocitace.html?page=2&sort=price"

	t.Run("probe accepts", func(t *testing.T) {
		probe := &probeFetcher{status: 200, body: datartListing}
		d := NewDatart(Deps{Probe: probe})
		doc := parse(t, current, datartListing)

		next, ok, err := d.NextListingURL(ctx, current, doc)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "https://www.datart.cz/pocitace.html?page=3&sort=price", next.URL)
		assert.Equal(t, []string{next.URL}, probe.calls)
	})

	t.Run("first page has no parameter", func(t *testing.T) {
		d := NewDatart(Deps{})
		doc := parse(t, "https://www.datart.cz/pocitace.html", datartListing)

		next, ok, err := d.NextListingURL(ctx, doc.URL, doc)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "https://www.datart.cz/pocitace.html?page=2", next.URL)
	})

	t.Run("page without products stops", func(t *testing.T) {
		probe := &probeFetcher{status: 200, body: datartListing}
		d := NewDatart(Deps{Probe: probe})
		doc := parse(t, current, `<a href="/kontakt.html">kontakt</a>`)

		_, ok, err := d.NextListingURL(ctx, current, doc)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, probe.calls)
	})

	rejected := []struct {
		name  string
		probe *probeFetcher
	}{
		{"error status", &probeFetcher{status: 404, body: datartListing}},
		{"no tiles", &probeFetcher{status: 200, body: "<p>konec</p>"}},
		{"fetch error", &probeFetcher{err: errors.New("timeout")}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDatart(Deps{Probe: tt.probe})
			doc := parse(t, current, datartListing)

			_, ok, err := d.NextListingURL(ctx, current, doc)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Len(t, tt.probe.calls, 1)
		})
	}
}

func TestGigacomputerExtract(t *testing.T) {
	doc := parse(t, "https://www.gigacomputer.cz/zbozi/pc-1.html", `<div id="parameters">
<div class="parameter"><div class="title">Procesor</div>
  <div class="item"><span class="name">Výrobce</span><span class="value">AMD</span></div>
  <div class="item"><span class="name">Modelová řada</span><span class="value">Ryzen 7</span></div>
  <div class="item"><span class="name">Typ</span><span class="value">7800X3D</span></div>
  <div class="item"><span class="name">Počet jader</span><span class="value">8</span></div>
  <div class="item"><span class="name">Frekvence</span><span class="value">4,2 GHz</span></div>
</div>
<div class="parameter"><div class="title">Grafická karta</div>
  <div class="item"><span class="name">Typ</span><span class="value">RTX 4070</span></div>
  <div class="item"><span class="name">Vlastní paměť</span><span class="value">12 GB</span></div>
</div>
<div class="parameter"><div class="title">Pevný disk</div>
  <div class="item"><span class="name">Kapacita SSD</span><span class="value">2 TB</span></div>
  <div class="item"><span class="name">Typ</span><span class="value">SSD M.2</span></div>
</div>
<div class="parameter"><div class="title">Operační paměť</div>
  <div class="item"><span class="name">Celková kapacita</span><span class="value">32 GB</span></div>
</div>
<div class="parameter"><div class="title">Velikost</div>
  <div class="item"><span class="name">Velikost</span><span class="value">Midi Tower</span></div>
</div>
<div class="parameter"><div class="title">Operační systém</div>
  <div class="item"><span class="name">Název</span><span class="value">Windows 11 Pro</span></div>
</div>
<div class="parameter"><div class="title">Záruka</div></div>
</div>
<div id="priceGroup"><span itemprop="price" content="45990">45 990 Kč</span></div>`)

	rec, err := Gigacomputer{}.ExtractDetailFields(doc)
	require.NoError(t, err)
	assert.Equal(t, crawler.Record{
		crawler.FieldProcessorModel:     "AMD Ryzen 7 7800X3D",
		crawler.FieldProcessorCores:     "8",
		crawler.FieldProcessorFrequency: "4,2 GHz",
		crawler.FieldGPUModel:           "RTX 4070",
		crawler.FieldGPUMemory:          "12 GB",
		crawler.FieldStorageCapacity:    "2 TB",
		crawler.FieldStorageType:        "SSD M.2",
		crawler.FieldRAMSize:            "32 GB",
		crawler.FieldFormFactor:         "Midi Tower",
		crawler.FieldOperatingSystem:    "Windows 11 Pro",
		crawler.FieldPrice:              "45990",
	}, rec)
}

func TestGigacomputerWithoutParameters(t *testing.T) {
	doc := parse(t, "https://www.gigacomputer.cz/zbozi/pc-1.html", `<h1>PC</h1>`)
	rec, err := Gigacomputer{}.ExtractDetailFields(doc)
	require.NoError(t, err)
	assert.True(t, rec.IsEmpty())
}

func TestGigacomputerNextListingURL(t *testing.T) {
	doc := parse(t, "https://www.gigacomputer.cz/pc.html?page=1",
		`<link rel="next" href="/ignored"><a rel="nofollow next" href="?page=2">2</a>`)
	next, ok, err := Gigacomputer{}.NextListingURL(context.Background(), doc.URL, doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://www.gigacomputer.cz/pc.html?page=2", next.URL)
}

func TestPlaneoExtract(t *testing.T) {
	doc := parse(t, "https://www.planeo.cz/hp-victus", `<div id="parameters"><table>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Model procesoru</th><td class="pl1">Intel Core i5-13400F</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Frekvence procesoru</th><td class="pl1">2,5 GHz</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Grafika</th><td class="pl1">GeForce RTX 3050</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Grafika integrovaná</th><td class="pl1">ignored</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Paměť grafické karty</th><td class="pl1">6 GB</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">SSD disk</th><td class="pl1">512 GB</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Operační paměť GB</th><td class="pl1">16</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Operační systém</th><td class="pl1">Windows 11</td></tr>
<tr class="dfl jcsb pr2 w100p"><th class="pl1">Výrobce procesoru</th><td class="pl1">Intel</td></tr>
<tr><th class="pl1">Model procesoru</th><td class="pl1">wrong row</td></tr>
</table></div>
<span class="price-value">18 999,-</span>`)

	rec, err := Planeo{}.ExtractDetailFields(doc)
	require.NoError(t, err)
	assert.Equal(t, crawler.Record{
		crawler.FieldProcessorModel:     "Intel Core i5-13400F",
		crawler.FieldProcessorFrequency: "2,5 GHz",
		crawler.FieldGPUModel:           "GeForce RTX 3050",
		crawler.FieldGPUMemory:          "6 GB",
		crawler.FieldStorageCapacity:    "512 GB",
		crawler.FieldStorageType:        "SSD",
		crawler.FieldRAMSize:            "16",
		crawler.FieldOperatingSystem:    "Windows 11",
		crawler.FieldBrand:              "Intel",
		crawler.FieldPrice:              18999,
	}, rec)
}

func TestPlaneoNextListingURL(t *testing.T) {
	doc := parse(t, "https://www.planeo.cz/pocitace?offset=24", `
<a class="c-pagination__page--arrow js-product-filter-paging" href="/pocitace">prev</a>
<a class="c-pagination__page--arrow js-product-filter-paging" href="/pocitace?offset=48">next</a>`)

	next, ok, err := Planeo{}.NextListingURL(context.Background(), doc.URL, doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://www.planeo.cz/pocitace?offset=48", next.URL)
}

func TestPocitarnaExtract(t *testing.T) {
	doc := parse(t, "https://www.pocitarna.cz/pocitace/dell-7080-1", `
<strong class="price-final" data-testid="productCardPrice">7 490&nbsp;Kč</strong>
<div class="fv-parameter" data-param="Model procesoru"><div class="value">Intel Core i5-10500</div></div>
<div class="fv-parameter" data-param="Frekvence procesoru"><div class="value">3,1 GHz</div></div>
<div class="fv-parameter" data-param="Počet jader"><div class="value">6</div></div>
<div class="fv-parameter" data-param="Operační paměť velikost"><div class="value">16 GB</div></div>
<div class="fv-parameter" data-param="Integrovaná grafická karta"><div class="value">Intel UHD 630</div></div>
<div class="fv-parameter" data-param="Operační systém"><div class="value">Windows 11 Pro</div></div>
<div class="fv-parameter" data-param="Značka"><div class="value">Dell</div></div>
<div class="fv-parameter" data-param="Úložiště"><div class="value">512 GB</div></div>
<div class="fv-parameter" data-param="Úložiště typ"><div class="value">SSD</div></div>
<div class="fv-parameter" data-param="Provedení"><div class="value">SFF</div></div>
<div class="fv-parameter"><div class="value">no key</div></div>`)

	rec, err := Pocitarna{}.ExtractDetailFields(doc)
	require.NoError(t, err)
	assert.Equal(t, crawler.Record{
		crawler.FieldProcessorModel:     "Intel Core i5-10500",
		crawler.FieldProcessorFrequency: "3,1 GHz",
		crawler.FieldProcessorCores:     "6",
		crawler.FieldRAMSize:            "16 GB",
		crawler.FieldGPUModel:           "Intel UHD 630",
		crawler.FieldOperatingSystem:    "Windows 11 Pro",
		crawler.FieldBrand:              "Dell",
		crawler.FieldStorageCapacity:    "512 GB",
		crawler.FieldStorageType:        "SSD",
		crawler.FieldFormFactor:         "SFF",
		crawler.FieldPrice:              7490,
	}, rec)
}

func TestPocitarnaNextListingURL(t *testing.T) {
	doc := parse(t, "https://www.pocitarna.cz/pocitace/", `<a class="next pagination-link" href="?page=2">›</a>`)
	next, ok, err := Pocitarna{}.NextListingURL(context.Background(), doc.URL, doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://www.pocitarna.cz/pocitace/?page=2", next.URL)
}

func TestStolnipocitaceExtract(t *testing.T) {
	doc := parse(t, "https://www.stolnipocitace.cz/pc/12345-pc-office.html", `
<p class="our_price_display"><span id="our_price_display" class="price" itemprop="price" content="12990.5">12 990 Kč</span></p>
<div class="rte">
<b>Procesor:</b> Intel Core i3-12100 (4 jádra, 3,3 GHz)<br>
<b>Paměť:</b> 8 GB DDR4<br>
<b>Grafika:</b> Intel UHD 730<br>
Zdroj 300W 80+ Bronze<br>
<b>Operační systém:</b> Windows 11 Home
</div>
<table class="table-data-sheet">
<tr><td>Pevný disk</td><td>256 GB SSD</td></tr>
<tr><td>Použití PC</td><td>Kancelář</td></tr>
<tr><td>Jen jedna</td></tr>
</table>`)

	rec, err := Stolnipocitace{}.ExtractDetailFields(doc)
	require.NoError(t, err)
	assert.Equal(t, crawler.Record{
		crawler.FieldProcessorModel:     "Intel Core i3-12100 (4 jádra, 3,3 GHz)",
		crawler.FieldProcessorCores:     "4",
		crawler.FieldProcessorFrequency: "3,3 GHz",
		crawler.FieldRAMSize:            "8 GB DDR4",
		crawler.FieldGPUModel:           "Intel UHD 730",
		crawler.FieldPowerSupply:        "300W 80+ Bronze",
		crawler.FieldOperatingSystem:    "Windows 11 Home",
		crawler.FieldStorageCapacity:    "256 GB SSD",
		crawler.FieldFormFactor:         "Kancelář",
		crawler.FieldPrice:              12990.5,
	}, rec)
}

func TestStolnipocitacePriceFallsBackToText(t *testing.T) {
	doc := parse(t, "https://www.stolnipocitace.cz/pc/12345-pc.html",
		`<p class="our_price_display"><span id="our_price_display" class="price" itemprop="price">9 990 Kč</span></p>`)
	rec, err := Stolnipocitace{}.ExtractDetailFields(doc)
	require.NoError(t, err)
	assert.Equal(t, "9 990 Kč", rec[crawler.FieldPrice])
}

func TestStolnipocitaceNextListingURL(t *testing.T) {
	ctx := context.Background()

	doc := parse(t, "https://www.stolnipocitace.cz/pc", `<ul><li id="pagination_next"><a href="#">Další</a></li></ul>`)
	next, ok, err := Stolnipocitace{}.NextListingURL(ctx, doc.URL, doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, next.URL)
	require.NotNil(t, next.Action)
	assert.Equal(t, "li#pagination_next a", next.Action.ClickSelector)

	disabled := parse(t, doc.URL, `<ul><li id="pagination_next" class="pagination_next disabled"><a>Další</a></li></ul>`)
	_, ok, err = Stolnipocitace{}.NextListingURL(ctx, disabled.URL, disabled)
	require.NoError(t, err)
	assert.False(t, ok)

	missing := parse(t, doc.URL, `<p>jedna stránka</p>`)
	_, ok, err = Stolnipocitace{}.NextListingURL(ctx, missing.URL, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}
