// Package idempotency derives the deterministic keys that make job runs and
// memory ingestion at-most-once.
package idempotency

import (
	"crypto/sha1" //nolint:gosec // prefix hashing only, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// ISOLayout matches the millisecond UTC form used for schedule ticks.
const ISOLayout = "2006-01-02T15:04:05.000Z"

const (
	sourcePathPrefixLen = 12
	checksumPrefixLen   = 16
)

// FormatISO renders t as a UTC timestamp with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// RunKey is the default idempotency key for a job run. Replaying the same
// schedule tick and attempt always yields the same key.
func RunKey(jobID, scheduledForISO string, attempt int) string {
	return "run:" + jobID + ":" + scheduledForISO + ":" + strconv.Itoa(attempt)
}

// Checksum is the hex SHA-256 of body.
func Checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// HashPrefix returns the first n hex characters of the SHA-1 of v.
func HashPrefix(v string, n int) string {
	sum := sha1.Sum([]byte(v)) //nolint:gosec
	return truncate(hex.EncodeToString(sum[:]), n)
}

// ChecksumPrefix returns the first n hex characters of the SHA-256 of v.
func ChecksumPrefix(v string, n int) string {
	return truncate(Checksum(v), n)
}

// IngestKey deduplicates memory documents by source path and content.
// A collision only causes an unwanted idempotency hit.
func IngestKey(sourcePath, checksum string) string {
	return "ingest:" + HashPrefix(sourcePath, sourcePathPrefixLen) + ":" + ChecksumPrefix(checksum, checksumPrefixLen)
}

func truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	if n > len(s) {
		return s
	}
	return s[:n]
}
