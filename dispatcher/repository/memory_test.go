package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_GetUserCreatesLazily(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	user, err := repo.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.QQID)
	assert.Empty(t, user.SelectedStyles)
}

func TestInMemory_SetSelectedStyleIsReadAfterWrite(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	_, err := repo.SetSelectedStyle(ctx, 1, "persona", "formal")
	require.NoError(t, err)

	user, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "formal", user.SelectedStyles["persona"])
}

func TestInMemory_UpsertOverwritesFields(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, User{QQID: 7, Nickname: "old", IsPrivileged: false}))
	require.NoError(t, repo.Upsert(ctx, User{QQID: 7, Nickname: "new", IsPrivileged: true}))

	user, err := repo.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "new", user.Nickname)
	assert.True(t, user.IsPrivileged)
}

func TestInMemory_CloneDoesNotAliasInternalMap(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	_, err := repo.SetSelectedStyle(ctx, 3, "persona", "a")
	require.NoError(t, err)

	got, err := repo.GetUser(ctx, 3)
	require.NoError(t, err)
	got.SelectedStyles["persona"] = "mutated"

	fresh, err := repo.GetUser(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.SelectedStyles["persona"])
}

func TestInMemory_ConcurrentWritesToDistinctUsersDontRace(t *testing.T) {
	repo := NewInMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = repo.SetSelectedStyle(ctx, id, "persona", "a")
		}(i)
	}
	wg.Wait()

	for i := int64(0); i < 100; i++ {
		user, err := repo.GetUser(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, "a", user.SelectedStyles["persona"])
	}
}
