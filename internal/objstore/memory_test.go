package objstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryListIsScopedAndSorted(t *testing.T) {
	m := NewMemory()
	b := m.Put("exports", "b.tif", []byte("bb"))
	a := m.Put("exports", "a.tif", []byte("a"))
	m.Put("other", "a.tif", []byte("zzz"))

	got, err := m.List(context.Background(), "exports")
	require.NoError(t, err)
	assert.Equal(t, []Artifact{a, b}, got)
	assert.Equal(t, int64(1), got[0].Size)
}

func TestMemoryDownloadAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := m.Put("exports", "a.tif", []byte("payload"))

	rc, err := m.Download(ctx, a.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	require.NoError(t, m.Delete(ctx, a.ID))
	assert.False(t, m.Has(a.ID))
	assert.ErrorIs(t, m.Delete(ctx, a.ID), ErrNotFound)

	_, err = m.Download(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenMemoryBackend(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: BackendMemory})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*Memory)
	assert.True(t, ok)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "ftp"})
	assert.Error(t, err)
}
