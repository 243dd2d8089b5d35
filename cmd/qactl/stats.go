package main

import (
	"github.com/ippousyuga/search-lucene/internal/searcher"
	"github.com/spf13/cobra"
)

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [collection...]",
		Short: "Show the committed index of each collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService(cmd, searcher.Options{})
			if err != nil {
				return err
			}
			defer svc.Close()

			names := args
			if len(names) == 0 {
				names = svc.Collections()
			}
			for _, name := range names {
				s, err := svc.Stats(name)
				if err != nil {
					cmd.Printf("%s: %v\n", name, err)
					continue
				}
				cmd.Printf("%s: generation %d, %d documents (%d slots, %d segments), committed %s\n",
					s.Collection, s.Generation, s.DocCount, s.MaxDoc, s.Segments, s.CommittedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
