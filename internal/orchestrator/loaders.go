package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/config"
	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/pcspec-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/pcspec-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/pcspec-crawler/internal/metrics"
	"github.com/JakeFAU/pcspec-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/pcspec-crawler/internal/sites"
)

// LoaderFactory builds the page loaders engines drive.
type LoaderFactory interface {
	// Loader returns the page loader for src. Browser loaders are started
	// before they are returned.
	Loader(ctx context.Context, src config.Source, strategy crawler.Strategy) (crawler.Fetcher, error)
	// Probe returns a plain HTTP fetcher strategies may use to check
	// candidate pages.
	Probe(src config.Source) crawler.Fetcher
}

// Loaders is the production LoaderFactory: colly for http sources and one
// chromedp session per browser source.
type Loaders struct {
	UserAgent     string
	RespectRobots bool
	FetchTimeout  time.Duration
	Headless      bool
	NavTimeout    time.Duration
	Logger        *zap.Logger
}

// NewLoaders derives the loader settings from cfg.
func NewLoaders(cfg config.Config, logger *zap.Logger) Loaders {
	return Loaders{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		FetchTimeout:  cfg.FetchTimeout(),
		Headless:      cfg.Headless.Headless,
		NavTimeout:    cfg.NavTimeout(),
		Logger:        logger,
	}
}

// Loader implements LoaderFactory.
func (l Loaders) Loader(ctx context.Context, src config.Source, strategy crawler.Strategy) (crawler.Fetcher, error) {
	logger := l.logger().With(zap.String("source", src.Name))
	switch src.Loader {
	case config.LoaderBrowser:
		dismiss := src.DismissSelector
		if d, ok := strategy.(sites.BannerDismisser); ok && dismiss == "" {
			dismiss = d.DismissSelector()
		}
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			Headless:          l.Headless,
			UserAgent:         l.UserAgent,
			NavigationTimeout: l.NavTimeout,
			DismissSelector:   dismiss,
		}, logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("browser loader: %w", err)
		}
		if err := f.Start(ctx); err != nil {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("browser close after failed start", zap.Error(cerr))
			}
			return nil, fmt.Errorf("start browser: %w", err)
		}
		return f, nil
	case config.LoaderHTTP, "":
		return l.Probe(src), nil
	default:
		return nil, fmt.Errorf("loader %q is not supported", src.Loader)
	}
}

// Probe implements LoaderFactory.
func (l Loaders) Probe(src config.Source) crawler.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     l.UserAgent,
		RespectRobots: l.RespectRobots,
		Timeout:       l.FetchTimeout,
	}, l.logger().With(zap.String("source", src.Name)).Named("colly"))
}

func (l Loaders) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// observedDelay is the per-source politeness delay, reporting each wait.
type observedDelay struct {
	source string
	delay  *ratelimit.Delay
}

func newThrottle(src config.Source) crawler.Throttle {
	if src.Delay <= 0 {
		return nil
	}
	return &observedDelay{source: src.Name, delay: ratelimit.NewDelay(src.Delay)}
}

func (o *observedDelay) Wait(ctx context.Context) error {
	start := time.Now()
	err := o.delay.Wait(ctx)
	metrics.ObserveThrottleWait(o.source, time.Since(start))
	return err
}
