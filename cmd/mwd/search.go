package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailworks/mailworks/internal/kv"
	"github.com/mailworks/mailworks/internal/lock"
	"github.com/mailworks/mailworks/internal/search"
)

var (
	searchFrom      int
	searchSize      int
	searchFuzzy     bool
	searchHighlight bool
	searchFilters   []string
	searchLanguage  string

	indexType     string
	indexLanguage string
	indexChunked  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the inverted index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := search.NewEngine(kv.NewIndexStore(store))

		filters := make(map[string]string, len(searchFilters))
		for _, f := range searchFilters {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("invalid --filter %q, want key=value", f)
			}
			filters[k] = v
		}

		result, err := engine.Search(rootCtx, args[0], search.QueryOptions{
			From:      searchFrom,
			Size:      searchSize,
			Filters:   filters,
			Highlight: searchHighlight,
			Fuzzy:     searchFuzzy,
			Language:  search.Language(searchLanguage),
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if result.Total == 0 {
			fmt.Println("no results")
			return nil
		}
		fmt.Printf("%d result(s)\n", result.Total)
		rows := make([][]string, 0, len(result.Hits))
		for _, hit := range result.Hits {
			rows = append(rows, []string{
				hit.Type, hit.ID, fmt.Sprintf("%.4f", hit.Score), truncate(hit.Highlight, 70),
			})
		}
		renderTable([]string{"TYPE", "ID", "SCORE", "SNIPPET"}, rows)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <id> [content]",
	Short: "Index a document (content as argument or on stdin)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if len(args) == 2 {
			content = args[1]
		} else {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			content = string(raw)
		}

		indexer := search.NewIndexer(kv.NewIndexStore(store), lock.NewManager(store))
		doc := &search.Document{
			ID:       args[0],
			Type:     indexType,
			Content:  content,
			Language: search.Language(indexLanguage),
		}
		if indexChunked {
			if err := indexer.IndexChunked(rootCtx, doc, search.DefaultChunkSize, nil); err != nil {
				return err
			}
		} else if err := indexer.Index(rootCtx, doc); err != nil {
			return err
		}
		fmt.Printf("indexed %s/%s (%d bytes)\n", indexType, args[0], len(content))
		return nil
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the index maintenance passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		optimizer := search.NewOptimizer(kv.NewIndexStore(store), lock.NewManager(store))
		report, err := optimizer.Optimize(rootCtx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(report)
			return nil
		}
		if report.Skipped {
			fmt.Println("skipped: another optimization run holds the lock")
			return nil
		}
		fmt.Printf("optimized: %d empty postings removed, %d postings rescored, %d metadata entries cleaned\n",
			report.EmptyPostings, report.PostingsRescored, report.MetadataOptimized)
		return nil
	},
}

var healthForce bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report search index health",
	RunE: func(cmd *cobra.Command, args []string) error {
		health := search.NewHealth(kv.NewIndexStore(store))
		report, err := health.Report(rootCtx, healthForce)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(report)
			return nil
		}
		fmt.Printf("status: %s\n", statusStyle(report.Status))
		fmt.Printf("  terms: %d, documents: %d, avg term frequency: %.2f\n",
			report.TotalTerms, report.TotalDocuments, report.AvgTermFrequency)
		fmt.Printf("  storage: ~%s (postings %s, metadata %s)\n",
			humanBytes(report.Storage.TotalBytes),
			humanBytes(report.Storage.PostingsBytes),
			humanBytes(report.Storage.MetadataBytes))
		for _, issue := range report.Issues {
			fmt.Printf("  issue: %s\n", issue)
		}
		return nil
	},
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	searchCmd.Flags().IntVar(&searchFrom, "from", 0, "Pagination offset")
	searchCmd.Flags().IntVar(&searchSize, "size", search.DefaultPageSize, "Page size")
	searchCmd.Flags().BoolVar(&searchFuzzy, "fuzzy", false, "Expand query terms by edit distance")
	searchCmd.Flags().BoolVar(&searchHighlight, "highlight", false, "Include content snippets")
	searchCmd.Flags().StringArrayVar(&searchFilters, "filter", nil, "Metadata filter key=value (repeatable)")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "en", "Stop-word language (en, es, fr, de)")

	indexCmd.Flags().StringVar(&indexType, "type", "document", "Document type")
	indexCmd.Flags().StringVar(&indexLanguage, "language", "en", "Stop-word language (en, es, fr, de)")
	indexCmd.Flags().BoolVar(&indexChunked, "chunked", false, "Split large content into chunks")

	healthCmd.Flags().BoolVar(&healthForce, "force", false, "Recompute even if a cached report exists")
}
