package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsTransport passes page requests straight through. A robots.txt probe
// that keeps timing out is answered locally with an allow-all file, since
// colly would otherwise fail the page request that triggered it.
type robotsTransport struct {
	next      http.RoundTripper
	logger    *zap.Logger
	backoff   []time.Duration
	fallbacks atomic.Int64
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	return t.probe(req)
}

// Fallbacks reports how many robots.txt probes were answered with allow-all.
func (t *robotsTransport) Fallbacks() int64 {
	return t.fallbacks.Load()
}

func (t *robotsTransport) probe(req *http.Request) (*http.Response, error) {
	waits := t.backoff
	if waits == nil {
		waits = defaultRobotsBackoff
	}
	for attempt := 0; ; attempt++ {
		clone := req.Clone(req.Context())
		clone.Body = req.Body
		resp, err := t.next.RoundTrip(clone)
		switch {
		case err == nil:
			return resp, nil
		case !timedOut(err):
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
		case attempt == len(waits):
			t.fallbacks.Add(1)
			if t.logger != nil {
				t.logger.Warn("robots.txt unreachable, allowing all",
					zap.String("host", req.URL.Host),
					zap.Int("attempts", attempt+1),
				)
			}
			return allowAll(req), nil
		}

		select {
		case <-req.Context().Done():
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, req.Context().Err())
		case <-time.After(waits[attempt]):
		}
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

// timedOut matches dial, TLS handshake and deadline timeouts.
func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}
