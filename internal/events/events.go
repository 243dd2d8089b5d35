// Package events defines the messages the indexer and searcher exchange
// over Kafka. Every message is keyed by its collection name.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
)

// RebuildRequest asks the indexer to rebuild a collection from its source.
type RebuildRequest struct {
	JobID       string    `json:"job_id"`
	Collection  string    `json:"collection"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewRebuildRequest(collection string) RebuildRequest {
	return RebuildRequest{
		JobID:       uuid.NewString(),
		Collection:  collection,
		RequestedAt: time.Now().UTC(),
	}
}

// RecordChanges lists records that changed in a collection's source.
type RecordChanges struct {
	Collection string           `json:"collection"`
	Changes    []builder.Change `json:"changes"`
}

// IndexComplete announces a new commit of a collection's index.
type IndexComplete struct {
	JobID      string          `json:"job_id,omitempty"`
	Collection string          `json:"collection"`
	Generation int64           `json:"generation"`
	DocCount   int             `json:"doc_count"`
	Report     *builder.Report `json:"report,omitempty"`
}
