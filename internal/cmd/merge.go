package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/manifest"
)

// mergeCmd combines every chunk's filtered-stage article file into one
// flat JSON array under the data directory, useful for a one-off export
// or for feeding the filtered corpus to an external tool outside this
// pipeline (spec §6 `merge`).
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge all chunk-level filtered files into one JSON array",
	RunE: func(c *cobra.Command, args []string) error {
		a := newApp()
		m, err := manifest.Load(a.manifestPath())
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "load manifest", err)
		}

		var merged []article.Article
		for _, id := range m.SortedChunkIDs() {
			path := filepath.Join(a.cfg.DataDir, "chunks", "filtered", id+".json")
			articles, err := readChunkFile(path)
			if err != nil {
				continue
			}
			merged = append(merged, articles...)
		}

		out := filepath.Join(a.cfg.DataDir, "merged.json")
		b, err := json.MarshalIndent(merged, "", "  ")
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "marshal merged output", err)
		}
		if err := os.WriteFile(out, b, 0o644); err != nil {
			return exitError(foundry.ExitFileWriteError, "write merged output", err)
		}
		a.logger.Info("merged chunk files", zap.Int("articles", len(merged)))
		return nil
	},
}
