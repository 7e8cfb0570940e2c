package memory

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"mission-control/internal/models"
)

const (
	// MaxResults caps the number of documents returned by Search.
	MaxResults = 25

	snippetBefore = 40
	snippetAfter  = 140
	snippetEmpty  = 180
)

// Normalize trims and lowercases a query.
func Normalize(query string) string {
	return lower(strings.TrimSpace(query))
}

// lower maps rune by rune so rune offsets in the result line up with the input.
func lower(s string) string {
	return strings.Map(unicode.ToLower, s)
}

// Search scores chunks by the number of non-overlapping occurrences of the
// normalized query, keeps the best chunk per document (first seen wins ties)
// and returns at most MaxResults results by descending score. An empty query
// matches every chunk with score 1. Chunks whose document is absent are skipped.
func Search(query string, docs []models.MemoryDoc, chunks []models.MemoryChunk) []models.MemorySearchResult {
	q := Normalize(query)

	byID := make(map[string]*models.MemoryDoc, len(docs))
	for i := range docs {
		byID[docs[i].DocID] = &docs[i]
	}

	best := make(map[string]int)
	var results []models.MemorySearchResult

	for _, chunk := range chunks {
		doc, ok := byID[chunk.DocID]
		if !ok {
			continue
		}
		res, ok := scoreChunk(q, chunk.Text)
		if !ok {
			continue
		}
		res.DocID = doc.DocID
		res.SourcePath = doc.SourcePath
		res.Title = doc.Title

		if idx, seen := best[doc.DocID]; seen {
			if res.Score > results[idx].Score {
				results[idx] = res
			}
			continue
		}
		best[doc.DocID] = len(results)
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	return results
}

func scoreChunk(q, text string) (models.MemorySearchResult, bool) {
	runes := []rune(text)
	if q == "" {
		return models.MemorySearchResult{
			Snippet: string(runes[:min(snippetEmpty, len(runes))]),
			Score:   1,
		}, true
	}

	lowered := lower(text)
	at := strings.Index(lowered, q)
	if at < 0 {
		return models.MemorySearchResult{}, false
	}

	pos := utf8.RuneCountInString(lowered[:at])
	start := max(0, pos-snippetBefore)
	end := min(len(runes), pos+utf8.RuneCountInString(q)+snippetAfter)

	return models.MemorySearchResult{
		Snippet: string(runes[start:end]),
		Score:   strings.Count(lowered, q),
	}, true
}
