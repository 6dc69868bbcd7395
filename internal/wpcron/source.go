package wpcron

import (
	"context"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/cache"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcli"
)

// CLI is the subset of wpcli.Client the cron source needs.
type CLI interface {
	ListSites(ctx context.Context) ([]wpcli.Site, error)
	CronEvents(ctx context.Context, site string) ([]wpcli.CronEvent, error)
	RunCronEvents(ctx context.Context, site string, hooks ...string) error
}

// CLISource reads sites and hooks through the command tool, caching each
// listing for a TTL.
type CLISource struct {
	cli   CLI
	sites *cache.TTL[struct{}, []string]
	hooks *cache.TTL[string, []Hook]
}

// NewCLISource creates a Source backed by cli.
func NewCLISource(cli CLI, ttl time.Duration, clk clock.Clock) *CLISource {
	s := &CLISource{cli: cli}
	s.sites = cache.New(ttl, func(ctx context.Context, _ struct{}) ([]string, error) {
		list, err := cli.ListSites(ctx)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(list))
		for _, site := range list {
			urls = append(urls, site.URL)
		}
		return urls, nil
	}, clk)
	s.hooks = cache.New(ttl, func(ctx context.Context, site string) ([]Hook, error) {
		events, err := cli.CronEvents(ctx, site)
		if err != nil {
			return nil, err
		}
		hooks := make([]Hook, 0, len(events))
		for _, ev := range events {
			hooks = append(hooks, Hook{Name: ev.Hook, NextRun: ev.NextRun, Schedule: ev.Recurrence})
		}
		return hooks, nil
	}, clk)
	return s
}

func (s *CLISource) Sites(ctx context.Context) ([]string, error) {
	return s.sites.Get(ctx, struct{}{})
}

func (s *CLISource) Hooks(ctx context.Context, site string) ([]Hook, error) {
	return s.hooks.Get(ctx, site)
}

// RunHooks fires hooks and marks the site's listing stale so the rescheduled
// instants are read on the next scan.
func (s *CLISource) RunHooks(ctx context.Context, site string, hooks ...string) error {
	defer s.hooks.MarkStale(site)
	return s.cli.RunCronEvents(ctx, site, hooks...)
}
