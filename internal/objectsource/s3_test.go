package objectsource

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	objects map[string]string
	sizes   map[string]int64
	err     error
	lastKey string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}
	if size, ok := f.sizes[f.lastKey]; ok {
		out.ContentLength = aws.Int64(size)
	}
	return out, nil
}

func TestFetch(t *testing.T) {
	fake := &fakeGetter{objects: map[string]string{"notes/MEMORY.md": "Mission Control notes"}}
	src := NewWithClient(fake, 1024)

	body, err := src.Fetch(context.Background(), "notes", "MEMORY.md")
	require.NoError(t, err)
	assert.Equal(t, "Mission Control notes", string(body))
	assert.Equal(t, "notes/MEMORY.md", fake.lastKey)
}

func TestFetchMissing(t *testing.T) {
	src := NewWithClient(&fakeGetter{}, 1024)
	_, err := src.Fetch(context.Background(), "notes", "gone.md")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFetchTooLarge(t *testing.T) {
	fake := &fakeGetter{objects: map[string]string{
		"b/declared": "small",
		"b/streamed": strings.Repeat("x", 11),
	}, sizes: map[string]int64{"b/declared": 1 << 30}}
	src := NewWithClient(fake, 10)

	_, err := src.Fetch(context.Background(), "b", "declared")
	require.ErrorIs(t, err, ErrObjectTooLarge)

	_, err = src.Fetch(context.Background(), "b", "streamed")
	require.ErrorIs(t, err, ErrObjectTooLarge)
}

func TestFetchPropagatesTransportErrors(t *testing.T) {
	boom := errors.New("connection reset")
	src := NewWithClient(&fakeGetter{err: boom}, 10)
	_, err := src.Fetch(context.Background(), "b", "k")
	require.ErrorIs(t, err, boom)
}
