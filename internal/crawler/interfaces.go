package crawler

import (
	"context"
	"errors"
)

// ErrUnsupportedAction is returned by loaders that cannot perform a PageAction.
var ErrUnsupportedAction = errors.New("page action not supported by loader")

// Fetcher loads a page and returns its rendered content.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Closer is implemented by loaders that hold external resources such as a
// browser session.
type Closer interface {
	Close() error
}

// Strategy is the per-site extraction contract.
type Strategy interface {
	// RecognizesDetailURL reports whether a normalized URL is a product page.
	// It must be pure and cheap; it runs for every discovered link.
	RecognizesDetailURL(url string) bool
	// ExtractDetailFields reads a product record from a parsed detail page.
	// An empty record means the page had no recognizable fields.
	ExtractDetailFields(doc *Document) (Record, error)
	// NextListingURL returns the next listing page, or false at the end of
	// pagination. Strategies may probe candidates over the network here.
	NextListingURL(ctx context.Context, currentURL string, doc *Document) (NextPage, bool, error)
}

// NormalizationPolicy is implemented by strategies whose URL equality keeps
// the query string or fragment. Listing options apply to seeds and
// pagination targets, detail options to discovered product links.
type NormalizationPolicy interface {
	ListingNormalizeOptions() NormalizeOptions
	DetailNormalizeOptions() NormalizeOptions
}

// ListingLinkScope is implemented by strategies that only consider links
// matched by a selector on listing pages, e.g. links inside product tiles.
type ListingLinkScope interface {
	ListingLinkSelector() string
}

// Flusher hands a batch to the writer and blocks until it is persisted.
type Flusher interface {
	Flush(ctx context.Context, source string, records []Record) error
}

// SnapshotStore persists the complete result set of one source, replacing
// any previous snapshot atomically. It returns the snapshot location.
type SnapshotStore interface {
	Save(ctx context.Context, source string, records []Record) (string, error)
}
