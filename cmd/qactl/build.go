package main

import (
	"strings"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/spf13/cobra"
)

func (a *app) buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [collection...]",
		Short: "Rebuild collection indexes from the records database",
		Long: `Rebuilds the named collections, or every configured collection when none
is given. The previous index keeps serving until the new one commits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := collection.NewRegistry(a.cfg.Collections)
			if err != nil {
				return err
			}
			targets, err := selectCollections(registry, args)
			if err != nil {
				return err
			}
			db, err := records.Open(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			b := builder.New(builder.OptionsFromConfig(a.cfg.Indexer))
			for _, c := range targets {
				src, err := db.Source(c.Table)
				if err != nil {
					return err
				}
				report, err := b.Rebuild(cmd.Context(), c, src)
				if err != nil {
					return err
				}
				cmd.Printf("%s: %d documents, generation %d, %s\n", report.Collection, report.DocCount, report.Generation, report.Duration)
				for _, f := range report.Skipped {
					cmd.Printf("  skipped %d: %s\n", f.ID, f.Reason)
				}
			}
			return nil
		},
	}
}

func selectCollections(registry *collection.Registry, names []string) ([]collection.Collection, error) {
	if len(names) == 0 || (len(names) == 1 && strings.EqualFold(names[0], "all")) {
		return registry.All(), nil
	}
	out := make([]collection.Collection, 0, len(names))
	for _, name := range names {
		c, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
