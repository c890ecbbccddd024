package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/manifest"
	"github.com/3leaps/blaulicht/pkg/scraper"
	"github.com/3leaps/blaulicht/pkg/scraper/sites"
)

func init() {
	rootCmd.AddCommand(scrapeCmd, filterCmd, enrichCmd, mergeCmd)
}

// scrapeCmd runs only the discovery stage for every pending/in-progress
// chunk's remaining states, writing raw article arrays to the flat chunk
// data layout (spec §6) instead of continuing on to filter/enrich, a
// debugging aid for inspecting one stage in isolation, per spec §6's
// "indicative, not exhaustive" CLI surface.
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run only the scrape stage for pending chunks",
	RunE: func(c *cobra.Command, args []string) error {
		a := newApp()
		m, err := manifest.Load(a.manifestPath())
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "load manifest", err)
		}

		byState := make(map[article.State]scraper.Site, len(sites.All()))
		for _, site := range sites.All() {
			byState[site.State()] = site
		}

		ctx, cancel := shutdownContext()
		defer cancel()

		for _, chunk := range m.PendingAndInProgress() {
			for _, state := range chunk.RemainingStates(article.AllStates) {
				site, ok := byState[state]
				if !ok {
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
					return exitError(foundry.ExitInvalidArgument, "build scraper", err)
				}

				articles, meta, err := s.Run(ctx, nil, chunk.StartDate, chunk.EndDate)
				if err != nil {
					return exitError(foundry.ExitExternalServiceUnavailable, fmt.Sprintf("scrape %s", state), err)
				}

				path := chunkFilePath(a.cfg.DataDir, "raw", state, chunk)
				if err := writeChunkFile(path, articles); err != nil {
					return exitError(foundry.ExitFileWriteError, "write chunk file", err)
				}
				_ = writeChunkMeta(path, chunkMeta{
					ArticlesFound: meta.ArticlesFound,
					PagesFetched:  meta.PagesFetched,
					Errors:        meta.Errors,
					StopReason:    meta.StopReason,
				})

				_ = m.UpdateStatus(chunk.ID, manifest.StatusInProgress, func(ch *manifest.Chunk) {
					ch.MarkStateCompleted(state)
					ch.ArticlesCount += len(articles)
				})
				if err := m.Save(); err != nil {
					return exitError(foundry.ExitFileWriteError, "save manifest", err)
				}
			}
		}
		return nil
	},
}
