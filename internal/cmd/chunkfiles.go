package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/manifest"
)

// chunkFilePath builds the flat chunk data layout from spec §6:
// "chunks/<stage>/<state>_<german-month>_<year>.json".
func chunkFilePath(dataDir, stage string, state article.State, ch *manifest.Chunk) string {
	name := fmt.Sprintf("%s_%s_%d.json", state, manifest.GermanMonthName(ch.StartDate.Month()), ch.StartDate.Year())
	return filepath.Join(dataDir, "chunks", stage, name)
}

type chunkMeta struct {
	ArticlesFound int    `json:"articles_found"`
	PagesFetched  int    `json:"pages_fetched"`
	Errors        int    `json:"errors"`
	StopReason    string `json:"stop_reason"`
}

func writeChunkFile(path string, articles []article.Article) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(articles, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func writeChunkMeta(path string, meta chunkMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path+".meta.json", b, 0o644)
}

func readChunkFile(path string) ([]article.Article, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var articles []article.Article
	if err := json.Unmarshal(b, &articles); err != nil {
		return nil, fmt.Errorf("parse chunk file %s: %w", path, err)
	}
	return articles, nil
}
