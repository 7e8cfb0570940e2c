package idempotency

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKey(t *testing.T) {
	assert.Equal(t, "run:job_1:2026-02-18T10:00:00.000Z:1", RunKey("job_1", "2026-02-18T10:00:00.000Z", 1))
	assert.Equal(t, "run:job_1:x:12", RunKey("job_1", "x", 12))
}

func TestFormatISO(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	ts := time.Date(2026, 2, 18, 4, 0, 0, 123456789, loc)
	assert.Equal(t, "2026-02-18T10:00:00.123Z", FormatISO(ts))
}

func TestChecksum(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Checksum("abc"))
}

func TestHashPrefix(t *testing.T) {
	// sha1("abc") = a9993e364706816aba3e25717850c26c9cd0d89d
	assert.Equal(t, "a9993e364706", HashPrefix("abc", 12))
	assert.Len(t, HashPrefix("abc", 100), 40)
	assert.Equal(t, "", HashPrefix("abc", -1))
}

func TestIngestKey(t *testing.T) {
	sum := Checksum("hello")
	key := IngestKey("notes/a.md", sum)

	parts := strings.Split(key, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "ingest", parts[0])
	assert.Len(t, parts[1], 12)
	assert.Len(t, parts[2], 16)
	assert.Equal(t, HashPrefix("notes/a.md", 12), parts[1])
	assert.Equal(t, ChecksumPrefix(sum, 16), parts[2])

	assert.Equal(t, key, IngestKey("notes/a.md", Checksum("hello")))
	assert.NotEqual(t, key, IngestKey("notes/b.md", sum))
	assert.NotEqual(t, key, IngestKey("notes/a.md", Checksum("hello!")))
}
