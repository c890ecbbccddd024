package cmd

import (
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/filter"
	"github.com/3leaps/blaulicht/pkg/manifest"
)

// filterCmd runs only the pre-filter/grouping stage (C2) over each
// chunk's raw files, writing the kept+grouped articles to chunks/filtered.
var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Run only the pre-filter/grouping stage for pending chunks",
	RunE: func(c *cobra.Command, args []string) error {
		a := newApp()
		m, err := manifest.Load(a.manifestPath())
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "load manifest", err)
		}

		for _, chunk := range m.PendingAndInProgress() {
			var all []article.Article
			for _, state := range chunk.CompletedStates {
				articles, err := readChunkFile(chunkFilePath(a.cfg.DataDir, "raw", state, chunk))
				if err != nil {
					continue // state not yet scraped, or file missing, skip, not fatal
				}
				all = append(all, articles...)
			}
			if len(all) == 0 {
				continue
			}

			kept, removed := filter.Apply(all)
			grouped := filter.Group(kept)

			groupedArticles := make([]article.Article, len(grouped))
			for i, g := range grouped {
				groupedArticles[i] = g.Article
			}

			path := filepath.Join(a.cfg.DataDir, "chunks", "filtered", chunk.ID+".json")
			if err := writeChunkFile(path, groupedArticles); err != nil {
				return exitError(foundry.ExitFileWriteError, "write filtered chunk file", err)
			}
			a.logger.Info("filter stage complete",
				zap.String("chunk", chunk.ID), zap.Int("kept", len(kept)), zap.Int("removed", len(removed)))
		}
		return nil
	},
}
