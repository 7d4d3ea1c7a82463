// Package collyfetcher implements the plain HTTP page loader using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher loads pages with a Colly collector. It has no rendering engine,
// so page actions are rejected with crawler.ErrUnsupportedAction.
type Fetcher struct {
	cfg       Config
	transport *robotsTransport
	template  *colly.Collector
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// callbackRegistrar is the part of *colly.Collector a visit hooks into.
type callbackRegistrar interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher whose collectors share one pooled transport.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	transport := &robotsTransport{next: pooledTransport(), logger: logger}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// 4xx and 5xx bodies reach OnResponse; the engine decides what failed.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(transport)

	return &Fetcher{cfg: cfg, transport: transport, template: c}
}

// Fetch performs one GET and returns whatever status the site answered with.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.Action != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: click %q", crawler.ErrUnsupportedAction, request.Action.ClickSelector)
	}
	v := &visit{request: request, started: time.Now()}
	c := f.collector()
	v.register(c)
	c.Context = ctx

	done := make(chan error, 1)
	go func() { done <- c.Visit(request.URL) }()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch %s: %w", request.URL, ctx.Err())
	case err := <-done:
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("colly visit %s: %w", request.URL, err)
		}
	}
	if v.err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("colly response %s: %w", request.URL, v.err)
	}
	return v.response, nil
}

// collector clones the template with the per-fetch settings applied.
func (f *Fetcher) collector() *colly.Collector {
	c := f.template.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	return c
}

// visit captures the outcome of a single collector run.
type visit struct {
	request  crawler.FetchRequest
	started  time.Time
	response crawler.FetchResponse
	err      error
}

func (v *visit) register(r callbackRegistrar) {
	r.OnRequest(v.onRequest)
	r.OnResponse(v.onResponse)
	r.OnError(func(_ *colly.Response, err error) { v.err = err })
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.response = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.started),
	}
}

func pooledTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
