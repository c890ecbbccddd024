package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/liveloop"
	"github.com/3leaps/blaulicht/pkg/scraper"
	"github.com/3leaps/blaulicht/pkg/scraper/sites"
)

var (
	liveMode     string
	liveSource   string
	liveDryRun   bool
	liveInterval time.Duration
)

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().StringVar(&liveMode, "mode", "once", "once|daemon|status")
	liveCmd.Flags().StringVar(&liveSource, "source", "", "restrict the cycle to a single source (bundesland name)")
	liveCmd.Flags().BoolVar(&liveDryRun, "dry-run", false, "skip the per-cycle health record write; records are still pushed to the external store")
	liveCmd.Flags().DurationVar(&liveInterval, "interval", 0, "override the configured poll interval")
}

// scraperPoller adapts a *scraper.Scraper into liveloop.SourcePoller by
// running it over [since, now) instead of a chunk's fixed [start, end].
type scraperPoller struct {
	name string
	s    *scraper.Scraper
}

func (p *scraperPoller) Name() string { return p.name }
func (p *scraperPoller) PollSince(ctx context.Context, since time.Time) ([]article.Article, error) {
	articles, _, err := p.s.Run(ctx, nil, since, time.Now().UTC())
	return articles, err
}

// liveCmd is the live-loop entry point (spec §4.9, §6).
var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live poll loop",
	RunE: func(c *cobra.Command, args []string) error {
		a := newApp()

		liveCfg := liveloop.DefaultConfig()
		liveCfg.LockPath = a.cfg.CacheDir + "/liveloop.lock"
		liveCfg.PollStatePath = a.cfg.CacheDir + "/poll_state.json"
		liveCfg.ArticleCapPerCycle = a.cfg.PerSourceArticleCap
		liveCfg.PipelineRun = a.cfg.PipelineRun
		if liveInterval > 0 {
			liveCfg.PollInterval = liveInterval
		} else if a.cfg.PollInterval > 0 {
			liveCfg.PollInterval = a.cfg.PollInterval
		}

		if liveMode == "status" {
			return printLiveStatus(a, liveCfg)
		}

		if err := a.runPreflight(c.Context(), liveCfg.LockPath); err != nil {
			return exitError(foundry.ExitInvalidArgument, "preflight check failed", err)
		}

		pollers, err := buildPollers(a)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "build pollers", err)
		}

		eng, err := a.newEngine()
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "build enrichment engine", err)
		}
		defer eng.Close()
		snk, err := a.newSink()
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "build sink", err)
		}

		var health liveloop.HealthSink
		if !liveDryRun {
			health = newHTTPHealthSink(a)
		}

		loop, err := liveloop.New(liveCfg, pollers, eng, snk, health, a.logger)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "build live loop", err)
		}

		acquired, err := loop.Lock()
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "acquire lock", err)
		}
		if !acquired {
			return exitError(foundry.ExitInvalidArgument, "live loop", fmt.Errorf("another instance holds the lock at %s", liveCfg.LockPath))
		}
		defer loop.Unlock()

		ctx, cancel := shutdownContext()
		defer cancel()

		if liveMode == "daemon" {
			return loop.Run(ctx, nil)
		}

		result := loop.RunOnce(ctx, nil)
		if metrics != nil {
			metrics.ArticlesScraped.Add(float64(result.TotalArticles))
			metrics.ArticlesEnriched.Add(float64(result.TotalEnriched))
			metrics.CycleErrors.Add(float64(result.Errors))
		}
		fmt.Printf("cycle complete: %d sources, %d articles, %d enriched, %d errors\n",
			result.SourcesPolled, result.TotalArticles, result.TotalEnriched, result.Errors)
		return nil
	},
}

func buildPollers(a *app) ([]liveloop.SourcePoller, error) {
	all := sites.All()
	pollers := make([]liveloop.SourcePoller, 0, len(all))
	for _, site := range all {
		if liveSource != "" && string(site.State()) != liveSource {
			continue
		}
		s, err := scraper.New(site, scraper.Config{
			FetchConcurrency: a.cfg.FetchConcurrency,
			MaxRetries:       a.cfg.MaxRetries,
			MaxBackoff:       a.cfg.MaxBackoff,
			MaxEmptyPages:    3,
			URLCacheDir:      a.cfg.CacheDir,
		}, a.http, a.logger)
		if err != nil {
			return nil, fmt.Errorf("build scraper for %s: %w", site.Name(), err)
		}
		pollers = append(pollers, &scraperPoller{name: site.Name(), s: s})
	}
	return pollers, nil
}

func printLiveStatus(a *app, liveCfg liveloop.Config) error {
	_ = a
	fmt.Printf("poll_state: %s\nlock: %s\n", liveCfg.PollStatePath, liveCfg.LockPath)
	return nil
}
