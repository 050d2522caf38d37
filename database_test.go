package main

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "combat.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBPilots(t *testing.T) {
	db := openTestDB(t)

	id, err := db.CreatePilot("viper", "hash")
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = db.CreatePilot("viper", "other")
	assert.Error(t, err, "usernames are unique")

	exists, err := db.UsernameExists("viper")
	require.NoError(t, err)
	assert.True(t, exists)

	p, err := db.GetPilotByUsername("viper")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "hash", p.PassHash)

	p, err = db.GetPilotByUsername("jester")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDBSortieStats(t *testing.T) {
	db := openTestDB(t)
	id, err := db.CreatePilot("hollywood", "")
	require.NoError(t, err)

	stats, err := db.GetStats(id)
	require.NoError(t, err)
	assert.Equal(t, StatsRow{PilotID: id}, *stats)
	assert.Zero(t, stats.Accuracy())

	require.NoError(t, db.AddSortieStats(id, 10, 4, 60))
	require.NoError(t, db.AddSortieStats(id, 6, 2, 30.5))

	stats, err = db.GetStats(id)
	require.NoError(t, err)
	assert.Equal(t, 16, stats.Shots)
	assert.Equal(t, 6, stats.Hits)
	assert.Equal(t, 2, stats.Sorties)
	assert.InDelta(t, 90.5, stats.Airtime, 1e-9)
	assert.InDelta(t, 0.375, stats.Accuracy(), 1e-12)

	stats, err = db.GetStats(9999)
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestDBLeaderboard(t *testing.T) {
	db := openTestDB(t)

	empty, err := db.GetLeaderboard("hits", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, p := range []struct {
		name        string
		shots, hits int
	}{
		{"alpha", 10, 5},
		{"bravo", 2, 2},
		{"charlie", 40, 5},
	} {
		id, err := db.CreatePilot(p.name, "")
		require.NoError(t, err)
		require.NoError(t, db.AddSortieStats(id, p.shots, p.hits, 1))
	}

	byHits, err := db.GetLeaderboard("hits", 10)
	require.NoError(t, err)
	require.Len(t, byHits, 3)
	assert.Equal(t, []string{"alpha", "charlie", "bravo"}, usernames(byHits), "ties break on username")
	assert.Equal(t, 1, byHits[0].Rank)
	assert.Equal(t, 3, byHits[2].Rank)

	byAccuracy, err := db.GetLeaderboard("accuracy", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "alpha"}, usernames(byAccuracy))
	assert.InDelta(t, 1.0, byAccuracy[0].Accuracy, 1e-12)

	byShots, err := db.GetLeaderboard("shots; DROP TABLE pilots", 10)
	require.NoError(t, err)
	assert.Equal(t, usernames(byHits), usernames(byShots), "unknown columns fall back to hits")
}

func usernames(entries []LeaderboardEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Username
	}
	return out
}

func TestDBSettings(t *testing.T) {
	db := openTestDB(t)
	assert.Empty(t, db.GetSetting("missing"))

	require.NoError(t, db.SetSetting("k", "v1"))
	require.NoError(t, db.SetSetting("k", "v2"))
	assert.Equal(t, "v2", db.GetSetting("k"))
}

func TestDBReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combat.db")
	db, err := OpenDB(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = db.CreatePilot("goose", "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(path, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()
	exists, err := db.UsernameExists("goose")
	require.NoError(t, err)
	assert.True(t, exists)
}
