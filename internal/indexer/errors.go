package indexer

import (
	"errors"
	"fmt"
)

var ErrEmptyDocument = errors.New("document has no text")

// IngestionError reports which stage of ingestion failed for a document.
type IngestionError struct {
	Source string
	Stage  string // parse, chunk, embed, store
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
