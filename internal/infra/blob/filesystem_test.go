package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := uuid.NewString()
	require.NoError(t, store.Put(ctx, key, strings.NewReader("attachment"), int64(len("attachment"))))

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "attachment", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Open(ctx, key)
	assert.True(t, errors.Is(err, ErrBlobNotFound))

	// second delete is a no-op
	assert.NoError(t, store.Delete(ctx, key))
}

func TestFileStore_RejectsTraversalKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../etc/passwd", "", "not-a-uuid", strings.ToUpper(uuid.NewString())} {
		assert.Error(t, store.Put(ctx, key, strings.NewReader("x"), 1), key)
		_, err := store.Open(ctx, key)
		assert.Error(t, err, key)
	}
}

func TestFileStore_ShortReaderLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := uuid.NewString()
	err = store.Put(ctx, key, strings.NewReader("abc"), 10)
	require.Error(t, err)

	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
