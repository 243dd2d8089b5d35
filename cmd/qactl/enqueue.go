package main

import (
	"errors"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/events"
	"github.com/ippousyuga/search-lucene/pkg/kafka"
	"github.com/spf13/cobra"
)

func (a *app) enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue [collection...]",
		Short: "Ask the indexer workers to rebuild collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Kafka.Enabled {
				return errors.New("kafka is not enabled in the configuration")
			}
			registry, err := collection.NewRegistry(a.cfg.Collections)
			if err != nil {
				return err
			}
			targets, err := selectCollections(registry, args)
			if err != nil {
				return err
			}
			producer := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.IndexRebuild)
			defer producer.Close()
			return enqueue(cmd, producer, targets)
		},
	}
}

func enqueue(cmd *cobra.Command, p kafka.Publisher, targets []collection.Collection) error {
	batch := make([]kafka.Event, 0, len(targets))
	for _, c := range targets {
		req := events.NewRebuildRequest(c.Name)
		batch = append(batch, kafka.Event{Key: c.Name, Value: req})
		cmd.Printf("%s: rebuild job %s\n", c.Name, req.JobID)
	}
	return p.PublishBatch(cmd.Context(), batch)
}
