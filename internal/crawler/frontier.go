package crawler

// ListingFrontier is the FIFO queue of listing pages still to visit plus the
// set of pages already visited. URLs are expected in normalized form; the
// queue never holds a URL twice or a URL that was already visited.
type ListingFrontier struct {
	queue   []string
	queued  map[string]struct{}
	visited map[string]struct{}
}

// NewListingFrontier seeds a frontier with already-normalized start URLs.
func NewListingFrontier(seeds ...string) *ListingFrontier {
	f := &ListingFrontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
	for _, s := range seeds {
		f.Push(s)
	}
	return f
}

// Push enqueues u unless it is empty, queued or visited. It reports whether u was added.
func (f *ListingFrontier) Push(u string) bool {
	if u == "" {
		return false
	}
	if _, ok := f.visited[u]; ok {
		return false
	}
	if _, ok := f.queued[u]; ok {
		return false
	}
	f.queued[u] = struct{}{}
	f.queue = append(f.queue, u)
	return true
}

// Pop removes the oldest queued URL.
func (f *ListingFrontier) Pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	u := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	delete(f.queued, u)
	return u, true
}

// MarkVisited records u as visited. It returns false if u was already visited.
func (f *ListingFrontier) MarkVisited(u string) bool {
	if _, ok := f.visited[u]; ok {
		return false
	}
	f.visited[u] = struct{}{}
	return true
}

// Visited reports whether u was visited.
func (f *ListingFrontier) Visited(u string) bool {
	_, ok := f.visited[u]
	return ok
}

// Len is the number of queued URLs.
func (f *ListingFrontier) Len() int { return len(f.queue) }

// VisitedCount is the number of visited URLs.
func (f *ListingFrontier) VisitedCount() int { return len(f.visited) }

// URLSet is an insertion-ordered set of URLs.
type URLSet struct {
	order []string
	index map[string]struct{}
}

// NewURLSet returns an empty set.
func NewURLSet() *URLSet {
	return &URLSet{index: make(map[string]struct{})}
}

// Add inserts u and reports whether it was new.
func (s *URLSet) Add(u string) bool {
	if _, ok := s.index[u]; ok {
		return false
	}
	s.index[u] = struct{}{}
	s.order = append(s.order, u)
	return true
}

// Contains reports membership.
func (s *URLSet) Contains(u string) bool {
	_, ok := s.index[u]
	return ok
}

// Len is the set size.
func (s *URLSet) Len() int { return len(s.order) }

// Items returns the members in insertion order.
func (s *URLSet) Items() []string {
	return append([]string(nil), s.order...)
}
