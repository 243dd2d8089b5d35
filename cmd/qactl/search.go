package main

import (
	"encoding/json"
	"fmt"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/searcher"
	"github.com/spf13/cobra"
)

func (a *app) openService(cmd *cobra.Command, opts searcher.Options) (*searcher.Service, error) {
	registry, err := collection.NewRegistry(a.cfg.Collections)
	if err != nil {
		return nil, err
	}
	svc := searcher.New(registry, opts)
	if err := svc.Open(cmd.Context()); err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *app) searchCmd() *cobra.Command {
	var (
		page   int
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <collection> <query>",
		Short: "Search a collection's local index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := searcher.OptionsFromConfig(a.cfg.Search)
			if err != nil {
				return err
			}
			svc, err := a.openService(cmd, opts)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.Search(cmd.Context(), args[0], args[1], page, limit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if asJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			if len(result.Hits) == 0 {
				cmd.Printf("No results (%d total hits).\n", result.TotalHits)
				return nil
			}
			cmd.Printf("%d total hits, page %d:\n", result.TotalHits, result.Page)
			for _, h := range result.Hits {
				cmd.Printf("  [%d] %s (%.4f)\n", h.ID, h.Highlight, h.Score)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 0, "zero-based result page")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "results per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}
