// Package storetest is a conformance suite every repository.Store backend
// must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tutorlog/internal/adapters/repository"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) repository.Store

// Run exercises the Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t, newStore)
		_, err := s.Get(context.Background(), "users/u1/transcripts/missing")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		path := "users/u1/transcripts/t1"

		require.NoError(t, s.Set(ctx, path, json.RawMessage(`{"a":1,"b":{"c":2}}`)))
		got, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1,"b":{"c":2}}`, string(got))

		require.NoError(t, s.Set(ctx, path, json.RawMessage(`{"z":true}`)))
		got, err = s.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"z":true}`, string(got))
	})

	t.Run("MergePatch", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		path := "users/u1/transcripts/t1"

		require.ErrorIs(t, s.Merge(ctx, path, json.RawMessage(`{"a":1}`)), repository.ErrNotFound)

		require.NoError(t, s.Set(ctx, path, json.RawMessage(`{"status":"live","messages":{"USR0":{"body":"hi"}},"keep":1}`)))
		require.NoError(t, s.Merge(ctx, path, json.RawMessage(`{"status":"final","messages":{"AST1":{"body":"yo"}},"keep":null}`)))

		got, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"final","messages":{"USR0":{"body":"hi"},"AST1":{"body":"yo"}}}`, string(got))
	})

	t.Run("MergeNestedNullRemovesFields", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		path := "users/u1/transcripts/t1"

		require.NoError(t, s.Set(ctx, path, json.RawMessage(
			`{"messages":{"USR0":{"body":"hi","translation":"hello","score":{"vocab":{"score":1},"grammar":{"score":4}}}}}`)))
		require.NoError(t, s.Merge(ctx, path, json.RawMessage(
			`{"messages":{"USR0":{"translation":null,"score":{"grammar":null}}}}`)))

		got, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"messages":{"USR0":{"body":"hi","score":{"vocab":{"score":1}}}}}`, string(got))
	})

	t.Run("CreateIfAbsent", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		path := "users/u1/transcripts/t1/status/final"

		res, err := s.Create(ctx, path, json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Equal(t, repository.Created, res)

		res, err = s.Create(ctx, path, json.RawMessage(`{"other":1}`))
		require.NoError(t, err)
		assert.Equal(t, repository.AlreadyExists, res)

		got, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(got))
	})

	t.Run("CreateRace", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		path := "users/u1/transcripts/t1/status/empty"

		const n = 8
		results := make([]repository.CreateResult, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = s.Create(ctx, path, json.RawMessage(`{}`))
			}()
		}
		wg.Wait()

		created := 0
		for i := range n {
			require.NoError(t, errs[i])
			if results[i] == repository.Created {
				created++
			}
		}
		assert.Equal(t, 1, created)
	})

	t.Run("DeleteIsIdempotentAndShallow", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		doc := "users/u1/transcripts/t1"
		child := doc + "/umsgs/USR0"

		require.NoError(t, s.Set(ctx, doc, json.RawMessage(`{}`)))
		require.NoError(t, s.Set(ctx, child, json.RawMessage(`{"body":"hi"}`)))

		require.NoError(t, s.Delete(ctx, doc))
		require.NoError(t, s.Delete(ctx, doc))

		_, err := s.Get(ctx, doc)
		require.ErrorIs(t, err, repository.ErrNotFound)
		_, err = s.Get(ctx, child)
		require.NoError(t, err)
	})

	t.Run("ListDirectChildren", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		base := "users/u1/transcripts/t1"

		for i := range 3 {
			require.NoError(t, s.Set(ctx, fmt.Sprintf("%s/umsgs/USR%d", base, i), json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))))
		}
		require.NoError(t, s.Set(ctx, base+"/amsgs/AST0", json.RawMessage(`{}`)))
		require.NoError(t, s.Set(ctx, base+"/umsgs/USR0/nested/x", json.RawMessage(`{}`)))
		require.NoError(t, s.Set(ctx, "users/u1/transcripts/t10/umsgs/USR9", json.RawMessage(`{}`)))

		got, err := s.List(ctx, base+"/umsgs")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, snap := range got {
			assert.Equal(t, fmt.Sprintf("USR%d", i), snap.ID)
			assert.Equal(t, fmt.Sprintf("%s/umsgs/USR%d", base, i), snap.Path)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(snap.Data))
		}

		empty, err := s.List(ctx, base+"/status")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("RejectsBadInput", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		require.ErrorIs(t, s.Set(ctx, "users/u1", json.RawMessage(`[]`)), repository.ErrInvalidDocument)
		require.ErrorIs(t, s.Set(ctx, "users", json.RawMessage(`{}`)), repository.ErrInvalidPath)
		require.ErrorIs(t, s.Set(ctx, "users//x/y", json.RawMessage(`{}`)), repository.ErrInvalidPath)
		_, err := s.List(ctx, "users/u1")
		require.ErrorIs(t, err, repository.ErrInvalidPath)
		_, err = s.Create(ctx, "users/u1", json.RawMessage(`"x"`))
		require.True(t, errors.Is(err, repository.ErrInvalidDocument))
	})
}

func open(t *testing.T, newStore Factory) repository.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
