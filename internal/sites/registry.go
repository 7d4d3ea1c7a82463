// Package sites holds the per-shop extraction strategies and the registry
// that builds them by name.
package sites

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

// ErrUnknownStrategy is returned by New for names missing from the registry.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Deps carries what strategies may need beyond the parsed page.
type Deps struct {
	// Probe fetches candidate pagination pages. Strategies that probe skip the
	// check when it is nil.
	Probe  crawler.Fetcher
	Logger *zap.Logger
}

// BannerDismisser is implemented by strategies that know which consent
// control the browser loader should click after navigation.
type BannerDismisser interface {
	DismissSelector() string
}

type factory func(Deps) crawler.Strategy

var registry = map[string]factory{
	"alza":           func(Deps) crawler.Strategy { return Alza{} },
	"datart":         func(d Deps) crawler.Strategy { return NewDatart(d) },
	"gigacomputer":   func(Deps) crawler.Strategy { return Gigacomputer{} },
	"planeo":         func(Deps) crawler.Strategy { return Planeo{} },
	"pocitarna":      func(Deps) crawler.Strategy { return Pocitarna{} },
	"stolnipocitace": func(Deps) crawler.Strategy { return Stolnipocitace{} },
}

// New builds the strategy registered under name.
func New(name string, deps Deps) (crawler.Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return f(deps), nil
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
