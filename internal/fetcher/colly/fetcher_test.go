package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><a href=\"/d/1\">pc</a><p id=\"ua\">%s</p><p id=\"trace\">%s</p></body></html>",
			r.UserAgent(), r.Header.Get("X-Trace"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	f := New(Config{UserAgent: "pcspec-test", Timeout: 5 * time.Second}, zaptest.NewLogger(t))

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/listing",
		Headers: http.Header{"X-Trace": {"abc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, srv.URL+"/listing", resp.URL)
	assert.Contains(t, string(resp.Body), `<p id="ua">pcspec-test</p>`)
	assert.Contains(t, string(resp.Body), `<p id="trace">abc</p>`)
	assert.False(t, resp.UsedBrowser)
	assert.Equal(t, "text/html; charset=utf-8", resp.Headers.Get("Content-Type"))
}

func TestFetchAllowsRevisit(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	f := New(Config{}, nil)
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/listing"})
		require.NoError(t, err, "visit %d", i)
	}
}

func TestFetchReturnsErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	f := New(Config{}, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/gone"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchRejectsActions(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:    "https://example.com",
		Action: &crawler.PageAction{ClickSelector: "a.next"},
	})
	require.ErrorIs(t, err, crawler.ErrUnsupportedAction)
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	f := New(Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil)
}

func TestCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true}, nil)
	c := f.collector()
	assert.Equal(t, "coverage-agent", c.UserAgent)
	assert.False(t, c.IgnoreRobotsTxt)
	assert.True(t, c.AllowURLRevisit)
	assert.Equal(t, defaultTimeout, f.cfg.Timeout)
}

func TestVisitCallbacks(t *testing.T) {
	t.Parallel()

	v := &visit{
		request: crawler.FetchRequest{
			URL:     "https://example.com",
			Headers: http.Header{"X-Trace": {"yes"}},
		},
		started: time.Now(),
	}
	hooks := &stubHooks{}
	v.register(hooks)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, v.response.StatusCode)
	assert.Equal(t, "body", string(v.response.Body))
	assert.Equal(t, "ok", v.response.Headers.Get("X-Resp"))
	assert.False(t, v.response.UsedBrowser)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, v.err, "boom")
}

func TestVisitWithoutHeaders(t *testing.T) {
	t.Parallel()

	v := &visit{}
	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
