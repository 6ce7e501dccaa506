package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/trackbridge/internal/domain/track"
)

// Settings is the per-filter configuration the chain is built from.
type Settings struct {
	Enabled  bool
	Settings map[string]any
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Build creates a chain of every enabled registered filter, in name order.
func Build(settings map[string]Settings, deps Deps) (*Chain, error) {
	c := NewChain()
	for _, name := range Names() {
		s, ok := settings[name]
		if !ok || !s.Enabled {
			continue
		}
		f := registry[name](deps)
		if err := f.ValidateConfig(s.Settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for %s", name)
		}
		c.Add(f)
		zlog.Debug().Msgf("filter enabled: %s", name)
	}
	for name := range settings {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter %q", name)
		}
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the track.
// Filters are only applied if they declare they apply to the track's origin.
func (c *Chain) Execute(ctx context.Context, t track.Track) Result {
	origin := OriginOf(t)
	for _, f := range c.filters {
		if !f.AppliesTo(origin) {
			continue
		}

		result := f.Check(ctx, t)
		if !result.Accepted {
			result.Filter = f.Name()
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
