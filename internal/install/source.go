package install

import (
	"context"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/cache"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcli"
)

// Component is the installed record of one component on one site.
type Component struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Version string `json:"version"`
	// Latest is the version an update would bring, empty when current.
	Latest string `json:"latest,omitempty"`
}

// ComponentSource reads component records. Lookup returns nil, nil when the
// component is not installed.
type ComponentSource interface {
	Lookup(ctx context.Context, site string, kind Kind, id string) (*Component, error)
	MarkStale(site string, kind Kind)
}

// Lister is the subset of wpcli.Client that lists components.
type Lister interface {
	Components(ctx context.Context, site, kind string) ([]wpcli.Component, error)
}

type listKey struct {
	site string
	kind string
}

// CLIComponents is a ComponentSource over cached component listings.
type CLIComponents struct {
	lists *cache.TTL[listKey, []wpcli.Component]
}

// NewCLIComponents caches each site's listing per kind for ttl.
func NewCLIComponents(l Lister, ttl time.Duration, clk clock.Clock) *CLIComponents {
	return &CLIComponents{
		lists: cache.New(ttl, func(ctx context.Context, k listKey) ([]wpcli.Component, error) {
			return l.Components(ctx, k.site, k.kind)
		}, clk),
	}
}

func (c *CLIComponents) Lookup(ctx context.Context, site string, kind Kind, id string) (*Component, error) {
	list, err := c.lists.Get(ctx, listKey{site: site, kind: kind.String()})
	if err != nil {
		return nil, err
	}
	for _, row := range list {
		if row.Name != id {
			continue
		}
		return &Component{
			ID:      row.Name,
			Kind:    kind.String(),
			Status:  row.Status,
			Version: row.Version,
			Latest:  row.UpdateVersion,
		}, nil
	}
	return nil, nil
}

func (c *CLIComponents) MarkStale(site string, kind Kind) {
	c.lists.MarkStale(listKey{site: site, kind: kind.String()})
}
