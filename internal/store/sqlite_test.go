package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "meetlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteGetSetRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestSQLite(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))

	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"))

	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meetlog.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, SetJSON(ctx, s, "session", map[string]int{"messageCount": 4}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	var got map[string]int
	ok, err := GetJSON(ctx, reopened, "session", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, got["messageCount"])
}

func TestMemoryFailWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("disk full")

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	m.SetFailWrites(boom)
	require.ErrorIs(t, m.Set(ctx, "k", []byte("w")), boom)
	require.ErrorIs(t, m.Remove(ctx, "k"), boom)

	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestGetJSONRejectsCorruptValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", []byte("{not json")))

	var v map[string]any
	ok, err := GetJSON(ctx, m, "k", &v)
	require.Error(t, err)
	require.False(t, ok)
}

func TestIsConflictError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("SQLITE_BUSY: cannot commit"), true},
		{"locked", errors.New("database is locked (5)"), true},
		{"other", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflictError(tt.err); got != tt.want {
				t.Errorf("IsConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
