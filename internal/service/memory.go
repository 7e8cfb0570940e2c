package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"mission-control/internal/idempotency"
	"mission-control/internal/memory"
	"mission-control/internal/models"
	"mission-control/internal/store"
	"mission-control/internal/telemetry"
)

// IngestInput is the payload for IngestMemory.
type IngestInput struct {
	SourcePath string `json:"sourcePath"`
	SourceType string `json:"sourceType"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

func (in IngestInput) Validate() error {
	switch {
	case strings.TrimSpace(in.SourcePath) == "":
		return invalid("sourcePath is required")
	case strings.TrimSpace(in.SourceType) == "":
		return invalid("sourceType is required")
	case strings.TrimSpace(in.Title) == "":
		return invalid("title is required")
	case in.Body == "":
		return invalid("body is required")
	}
	return nil
}

// ObjectIngestInput names an object to ingest. Title and SourceType are
// derived from the key when empty.
type ObjectIngestInput struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	Title      string `json:"title,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
}

func (in ObjectIngestInput) Validate() error {
	if strings.TrimSpace(in.Bucket) == "" {
		return invalid("bucket is required")
	}
	if strings.TrimSpace(in.Key) == "" {
		return invalid("key is required")
	}
	return nil
}

type ingestMetadata struct {
	SourcePath string `json:"sourcePath"`
	ChunkCount int    `json:"chunkCount"`
	IngestKey  string `json:"ingestKey"`
}

// IngestMemory stores a document and its chunks. Re-ingesting the same
// sourcePath and body returns the first document, also under concurrency.
func (s *Service) IngestMemory(ctx context.Context, actor models.Actor, in IngestInput) (models.MemoryDoc, error) {
	if err := in.Validate(); err != nil {
		return models.MemoryDoc{}, err
	}
	checksum := idempotency.Checksum(in.Body)
	key := idempotency.IngestKey(in.SourcePath, checksum)

	var (
		doc       models.MemoryDoc
		chunks    int
		duplicate bool
	)
	err := s.withLock(ctx, key, func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			existing, err := tx.FindMemoryDocByKey(ctx, key)
			switch {
			case err == nil:
				doc, duplicate = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("find doc: %w", err)
			}

			now := s.clock()
			doc = models.MemoryDoc{
				DocID:        newID("doc"),
				SourcePath:   in.SourcePath,
				SourceType:   in.SourceType,
				Title:        in.Title,
				IngestStatus: models.IngestIndexed,
				Checksum:     checksum,
				IngestKey:    key,
				Body:         in.Body,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.InsertMemoryDoc(ctx, doc); err != nil {
				return fmt.Errorf("insert doc: %w", err)
			}

			pieces := memory.Chunk(in.Body)
			rows := make([]models.MemoryChunk, len(pieces))
			for i, p := range pieces {
				rows[i] = models.MemoryChunk{
					ChunkID:    newID("chunk"),
					DocID:      doc.DocID,
					ChunkIndex: p.Index,
					Text:       p.Text,
					TokenCount: p.TokenCount,
					CreatedAt:  now,
				}
			}
			if err := tx.InsertMemoryChunks(ctx, rows); err != nil {
				return fmt.Errorf("insert chunks: %w", err)
			}
			chunks = len(rows)

			return record(ctx, tx, now, actor, models.EntityMemory, doc.DocID, ActionIngested, ingestMetadata{
				SourcePath: doc.SourcePath,
				ChunkCount: chunks,
				IngestKey:  key,
			})
		})
	})
	if errors.Is(err, store.ErrDuplicate) {
		doc, err = s.findDoc(ctx, key)
		duplicate = err == nil
	}
	if err != nil {
		return models.MemoryDoc{}, err
	}

	if duplicate {
		telemetry.DocsDeduplicated.Inc()
		s.log.Debug().Str("doc_id", doc.DocID).Str("ingest_key", key).Msg("ingest deduplicated")
		return doc, nil
	}
	telemetry.DocsIngested.Inc()
	s.log.Info().Str("doc_id", doc.DocID).Str("source_path", doc.SourcePath).Int("chunks", chunks).Str("actor_id", actor.ActorID).Msg("memory ingested")
	return doc, nil
}

func (s *Service) findDoc(ctx context.Context, key string) (models.MemoryDoc, error) {
	var doc models.MemoryDoc
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		doc, err = tx.FindMemoryDocByKey(ctx, key)
		return err
	})
	if err != nil {
		return models.MemoryDoc{}, fmt.Errorf("reload doc %s: %w", key, err)
	}
	return doc, nil
}

// IngestObject fetches bucket/key from the object source and ingests it with
// sourcePath s3://bucket/key.
func (s *Service) IngestObject(ctx context.Context, actor models.Actor, in ObjectIngestInput) (models.MemoryDoc, error) {
	if err := in.Validate(); err != nil {
		return models.MemoryDoc{}, err
	}
	if s.objects == nil {
		return models.MemoryDoc{}, ErrSourceUnavailable
	}
	body, err := s.objects.Fetch(ctx, in.Bucket, in.Key)
	if err != nil {
		return models.MemoryDoc{}, fmt.Errorf("fetch object: %w", err)
	}

	title := in.Title
	if title == "" {
		title = path.Base(in.Key)
	}
	sourceType := in.SourceType
	if sourceType == "" {
		sourceType = sourceTypeFor(in.Key)
	}
	return s.IngestMemory(ctx, actor, IngestInput{
		SourcePath: "s3://" + in.Bucket + "/" + in.Key,
		SourceType: sourceType,
		Title:      title,
		Body:       string(body),
	})
}

func sourceTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}

// SearchMemory scores every chunk against query and returns the best chunk
// per document.
func (s *Service) SearchMemory(ctx context.Context, query string) ([]models.MemorySearchResult, error) {
	var (
		docs   []models.MemoryDoc
		chunks []models.MemoryChunk
	)
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		if docs, err = tx.ListMemoryDocs(ctx); err != nil {
			return err
		}
		chunks, err = tx.ListMemoryChunks(ctx, "")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	telemetry.MemorySearches.Inc()
	return memory.Search(query, docs, chunks), nil
}

// GetMemoryDoc returns one document.
func (s *Service) GetMemoryDoc(ctx context.Context, docID string) (models.MemoryDoc, error) {
	var doc models.MemoryDoc
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		doc, err = tx.GetMemoryDoc(ctx, docID)
		return notFound(err, "memory doc", docID)
	})
	return doc, err
}

// ListMemoryChunks returns a document's chunks by index.
func (s *Service) ListMemoryChunks(ctx context.Context, docID string) ([]models.MemoryChunk, error) {
	var out []models.MemoryChunk
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetMemoryDoc(ctx, docID); err != nil {
			return notFound(err, "memory doc", docID)
		}
		var err error
		out, err = tx.ListMemoryChunks(ctx, docID)
		return err
	})
	return out, err
}
