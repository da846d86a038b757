package repository_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/adapters/repository/storetest"
)

func TestMemStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return repository.NewMemStore()
	})
}

func TestInstrumentedConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return repository.Instrument(repository.NewMemStore(), "memory")
	})
}

func TestMemStoreClosed(t *testing.T) {
	s := repository.NewMemStore()
	require.NoError(t, s.Set(context.Background(), "a/b", json.RawMessage(`{}`)))
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "a/b")
	require.ErrorIs(t, err, repository.ErrClosed)
}

func TestMemStoreReturnsCopies(t *testing.T) {
	s := repository.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a/b", json.RawMessage(`{"k":1}`)))

	got, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	got[2] = 'X'

	again, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":1}`, string(again))
}

func TestPaths(t *testing.T) {
	assert.NoError(t, repository.ValidateDocPath("users/u1/transcripts/t1"))
	assert.ErrorIs(t, repository.ValidateDocPath("users/u1/transcripts"), repository.ErrInvalidPath)
	assert.ErrorIs(t, repository.ValidateDocPath("/users/u1"), repository.ErrInvalidPath)
	assert.NoError(t, repository.ValidateCollectionPath("users/u1/transcripts"))

	coll, id := repository.Split("users/u1/transcripts/t1")
	assert.Equal(t, "users/u1/transcripts", coll)
	assert.Equal(t, "t1", id)
	assert.Equal(t, "users/u1", repository.Join("users", "u1"))
	assert.Equal(t, "created", repository.Created.String())
	assert.Equal(t, "already_exists", repository.AlreadyExists.String())
}
