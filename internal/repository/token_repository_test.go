package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRepository_Blacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	repo := NewTokenRepository(rdb)

	ok, err := repo.IsBlacklisted(t.Context(), "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Blacklist(t.Context(), "tok", time.Minute))
	ok, err = repo.IsBlacklisted(t.Context(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = repo.IsBlacklisted(t.Context(), "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenRepository_ExpiredTokenNotStored(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.NoError(t, NewTokenRepository(rdb).Blacklist(t.Context(), "old", -time.Second))
	assert.False(t, mr.Exists("blacklist:old"))
}
