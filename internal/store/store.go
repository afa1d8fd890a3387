package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Page bounds a query. A zero Limit means no bound.
type Page struct {
	Offset int
	Limit  int
}

// Store is the entity persistence the ledger runs against. Documents are
// addressed by (kind, id); Query matches a single top-level document field
// against its JSON text rendering. Writes are ordering-preserving; queries
// are not guaranteed to observe unflushed writes of the same unit of work
// unless a Set completed first.
type Store interface {
	// Get loads the document into out and reports whether it exists.
	Get(ctx context.Context, kind, id string, out any) (bool, error)
	Set(ctx context.Context, kind, id string, record any) error
	// SetBatch upserts several documents of one kind in one round trip.
	SetBatch(ctx context.Context, kind string, records map[string]any) error
	Delete(ctx context.Context, kind, id string) error
	// Query decodes all matching documents into out, which must be a
	// pointer to a slice.
	Query(ctx context.Context, kind, field, value string, page Page, out any) error

	// Processor bookkeeping (timekeeper, checkpoints).
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error
}

const queryBatch = 100

// QueryAll pages through every document matching field=value, invoking fn
// with the raw page until the store runs dry.
func QueryAll[T any](ctx context.Context, s Store, kind, field, value string, fn func(T) error) error {
	for offset := 0; ; offset += queryBatch {
		var page []T
		if err := s.Query(ctx, kind, field, value, Page{Offset: offset, Limit: queryBatch}, &page); err != nil {
			return fmt.Errorf("query %s by %s: %w", kind, field, err)
		}
		for _, item := range page {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(page) < queryBatch {
			return nil
		}
	}
}

// decodeDocs joins raw documents into one JSON array and decodes it into out.
func decodeDocs(docs []json.RawMessage, out any) error {
	joined, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	return json.Unmarshal(joined, out)
}
