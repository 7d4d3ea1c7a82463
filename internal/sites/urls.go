package sites

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

// parseHTTP parses raw and reports whether it is an absolute http(s) URL.
func parseHTTP(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	default:
		return nil, false
	}
}

// nextByLink resolves the href of the first element matched by selector.
func nextByLink(currentURL string, doc *crawler.Document, selector string) (crawler.NextPage, bool) {
	href, ok := doc.AttrOf(selector, "href")
	if !ok || href == "" {
		return crawler.NextPage{}, false
	}
	next := crawler.Resolve(currentURL, href)
	if next == "" {
		return crawler.NextPage{}, false
	}
	return crawler.NextPage{URL: next}, true
}

// incrementPage returns rawURL with its page query parameter advanced by
// one. A missing or unreadable parameter counts as page 1.
func incrementPage(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page+1))
	u.RawQuery = q.Encode()
	return u.String(), true
}
