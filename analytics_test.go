package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsFlushesOnStop(t *testing.T) {
	db := openTestDB(t)
	id, err := db.CreatePilot("wolfman", "")
	require.NoError(t, err)

	a := NewAnalytics(db, zerolog.Nop())
	a.Track("s1", id, SceneEvent{Type: EvtShot, ProjectileID: "p1", Time: 0.5})
	a.Track("s1", id, SceneEvent{Type: EvtHit, ProjectileID: "p1", Target: TargetIsland, Position: mgl64.Vec3{1, 2, 3}})
	a.Track("s1", 0, SceneEvent{Type: EvtReset})
	a.Track("s2", id, SceneEvent{Type: EvtShot})
	a.Stop()

	counts, err := a.EventCounts("s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{EvtShot: 1, EvtHit: 1, EvtReset: 1}, counts)

	shots, err := db.CountEvents(EvtShot)
	require.NoError(t, err)
	assert.Equal(t, 2, shots)
	assert.Zero(t, a.Dropped())
}

func TestAnalyticsBatchesLargeBursts(t *testing.T) {
	db := openTestDB(t)
	a := NewAnalytics(db, zerolog.Nop())
	for i := 0; i < 3*analyticsBatchSize+7; i++ {
		a.Track("burst", 0, SceneEvent{Type: EvtExpired})
	}
	a.Stop()

	n, err := db.CountEvents(EvtExpired)
	require.NoError(t, err)
	assert.Equal(t, 3*analyticsBatchSize+7-int(a.Dropped()), n)
}

func TestAnalyticsWithoutDatabase(t *testing.T) {
	a := NewAnalytics(nil, zerolog.Nop())
	a.Track("s", 0, SceneEvent{Type: EvtShot})
	a.Stop()

	counts, err := a.EventCounts("s")
	require.NoError(t, err)
	assert.Empty(t, counts)
}
