package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mission-control/internal/idempotency"
	"mission-control/internal/models"
	"mission-control/internal/store"
)

func notes(body string) IngestInput {
	return IngestInput{SourcePath: "memory_notes/MEMORY.md", SourceType: "markdown", Title: "Mission Control notes", Body: body}
}

func TestIngestMemory(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		body := strings.Repeat("a", 259) + " " + strings.Repeat("b c ", 85)
		doc, err := h.svc.IngestMemory(ctx, operator, notes(body))
		require.NoError(t, err)

		assert.Regexp(t, `^doc_`, doc.DocID)
		assert.Equal(t, models.IngestIndexed, doc.IngestStatus)
		assert.Equal(t, idempotency.Checksum(body), doc.Checksum)
		assert.Equal(t, idempotency.IngestKey("memory_notes/MEMORY.md", doc.Checksum), doc.IngestKey)

		chunks, err := h.svc.ListMemoryChunks(ctx, doc.DocID)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
			assert.Equal(t, doc.DocID, c.DocID)
		}
		assert.Len(t, chunks[0].Text, 260)
		assert.Equal(t, 1, chunks[0].TokenCount)
		assert.Len(t, chunks[2].Text, len(body)-520)

		items := h.activity(t, ActivityFilter{EntityType: models.EntityMemory})
		require.Len(t, items, 1)
		assert.Equal(t, ActionIngested, items[0].Action)
		assert.Equal(t, map[string]any{
			"sourcePath": "memory_notes/MEMORY.md",
			"chunkCount": float64(3),
			"ingestKey":  doc.IngestKey,
		}, decodeMetadata(t, items[0]))

		got, err := h.svc.GetMemoryDoc(ctx, doc.DocID)
		require.NoError(t, err)
		assert.Equal(t, body, got.Body)
	})
}

func TestIngestMemoryIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		first, err := h.svc.IngestMemory(ctx, operator, notes("alpha beta alpha"))
		require.NoError(t, err)
		second, err := h.svc.IngestMemory(ctx, operator, notes("alpha beta alpha"))
		require.NoError(t, err)

		assert.Equal(t, first.DocID, second.DocID)
		assert.Equal(t, first.IngestKey, second.IngestKey)

		chunks, err := h.svc.ListMemoryChunks(ctx, first.DocID)
		require.NoError(t, err)
		assert.Len(t, chunks, 1)
		assert.Len(t, h.activity(t, ActivityFilter{EntityType: models.EntityMemory}), 1)

		changed, err := h.svc.IngestMemory(ctx, operator, notes("alpha beta gamma"))
		require.NoError(t, err)
		assert.NotEqual(t, first.DocID, changed.DocID, "new content is a new document")
	})
}

func TestIngestMemoryConcurrent(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		const callers = 12
		ids := make([]string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc, err := h.svc.IngestMemory(ctx, operator, notes(strings.Repeat("concurrent ", 60)))
				if assert.NoError(t, err) {
					ids[i] = doc.DocID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
		chunks, err := h.svc.ListMemoryChunks(ctx, ids[0])
		require.NoError(t, err)
		assert.Len(t, chunks, 3)
	})
}

func TestIngestLostRaceReturnsWinner(t *testing.T) {
	mem := store.NewMemory()
	winner := newHarnessWith(t, mem)
	won, err := winner.svc.IngestMemory(context.Background(), operator, notes("shared"))
	require.NoError(t, err)

	loser := newHarnessWith(t, staleStore{mem})
	got, err := loser.svc.IngestMemory(context.Background(), operator, notes("shared"))
	require.NoError(t, err)
	assert.Equal(t, won.DocID, got.DocID)
}

func TestIngestValidation(t *testing.T) {
	h := newHarness(t)
	for name, in := range map[string]IngestInput{
		"no path":  {SourceType: "markdown", Title: "t", Body: "b"},
		"no type":  {SourcePath: "p", Title: "t", Body: "b"},
		"no title": {SourcePath: "p", SourceType: "markdown", Body: "b"},
		"no body":  {SourcePath: "p", SourceType: "markdown", Title: "t"},
	} {
		_, err := h.svc.IngestMemory(context.Background(), operator, in)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestSearchMemory(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		doc, err := h.svc.IngestMemory(ctx, operator, notes("alpha beta alpha"))
		require.NoError(t, err)

		results, err := h.svc.SearchMemory(ctx, "  ALPHA ")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, doc.DocID, results[0].DocID)
		assert.Equal(t, 2, results[0].Score)
		assert.Equal(t, "alpha beta alpha", results[0].Snippet)
		assert.Equal(t, "memory_notes/MEMORY.md", results[0].SourcePath)

		results, err = h.svc.SearchMemory(ctx, "gamma")
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchMemoryEmptyQueryCaps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		_, err := h.svc.IngestMemory(ctx, operator, IngestInput{
			SourcePath: fmt.Sprintf("notes/%02d.md", i), SourceType: "markdown", Title: "n", Body: "note body",
		})
		require.NoError(t, err)
	}
	results, err := h.svc.SearchMemory(ctx, "")
	require.NoError(t, err)
	require.Len(t, results, 25)
	for _, r := range results {
		assert.Equal(t, 1, r.Score)
	}
}

type fakeObjects struct {
	bodies map[string]string
}

func (f fakeObjects) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	body, ok := f.bodies[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return []byte(body), nil
}

func TestIngestObject(t *testing.T) {
	h := newHarness(t, WithObjectSource(fakeObjects{bodies: map[string]string{
		"notes/team/MEMORY.md": "Every memory result should include a source citation.",
		"notes/raw/log.txt":    "plain text",
	}}))
	ctx := context.Background()

	doc, err := h.svc.IngestObject(ctx, operator, ObjectIngestInput{Bucket: "notes", Key: "team/MEMORY.md"})
	require.NoError(t, err)
	assert.Equal(t, "s3://notes/team/MEMORY.md", doc.SourcePath)
	assert.Equal(t, "markdown", doc.SourceType)
	assert.Equal(t, "MEMORY.md", doc.Title)

	doc, err = h.svc.IngestObject(ctx, operator, ObjectIngestInput{Bucket: "notes", Key: "raw/log.txt", Title: "Raw log"})
	require.NoError(t, err)
	assert.Equal(t, "text", doc.SourceType)
	assert.Equal(t, "Raw log", doc.Title)

	_, err = h.svc.IngestObject(ctx, operator, ObjectIngestInput{Bucket: "notes", Key: "missing.md"})
	require.Error(t, err)

	_, err = h.svc.IngestObject(ctx, operator, ObjectIngestInput{Bucket: "notes"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestIngestObjectWithoutSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.IngestObject(context.Background(), operator, ObjectIngestInput{Bucket: "b", Key: "k.md"})
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestMemoryLookupsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetMemoryDoc(context.Background(), "doc_missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.svc.ListMemoryChunks(context.Background(), "doc_missing")
	require.ErrorIs(t, err, ErrNotFound)
}
