package models

import "time"

// IngestStatus tracks a memory document through ingestion.
type IngestStatus string

const (
	IngestDiscovered IngestStatus = "discovered"
	IngestIndexing   IngestStatus = "indexing"
	IngestIndexed    IngestStatus = "indexed"
	IngestFailed     IngestStatus = "ingest_failed"
)

// MemoryDoc is an ingested document. IngestKey is unique.
type MemoryDoc struct {
	DocID        string       `json:"docId"`
	SourcePath   string       `json:"sourcePath"`
	SourceType   string       `json:"sourceType"`
	Title        string       `json:"title"`
	IngestStatus IngestStatus `json:"ingestStatus"`
	Checksum     string       `json:"checksum"`
	IngestKey    string       `json:"ingestKey"`
	Body         string       `json:"body"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// MemoryChunk is a fixed-size slice of a document body.
type MemoryChunk struct {
	ChunkID    string    `json:"chunkId"`
	DocID      string    `json:"docId"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	TokenCount int       `json:"tokenCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MemorySearchResult is the best-scoring chunk of one document.
type MemorySearchResult struct {
	DocID      string `json:"docId"`
	SourcePath string `json:"sourcePath"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Score      int    `json:"score"`
}
