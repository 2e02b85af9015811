package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbitsync/internal/models"
)

func TestBootstrap_MergesDuplicatedEvents(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	def := testDefinition()

	// The same real-world event already exists on both providers from before
	// the sync was configured.
	start := soon()
	env.fakes["frame-a"].add(nativeEvent("a-1", "Swim meet", start))
	env.fakes["frame-b"].add(nativeEvent("b-9", "Swim meet", start))

	summary, err := env.engine.RunSync(ctx, def, ModeRun)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, summary.Status)

	createdA, _, _ := env.fakes["frame-a"].snapshot()
	createdB, _, _ := env.fakes["frame-b"].snapshot()
	assert.Equal(t, 0, createdA, "merged events are never re-created")
	assert.Equal(t, 0, createdB)

	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Equal(t, 1, count, "one canonical event for both observations")

	mapA, err := env.store.GetMapping(ctx, env.db, "frame-a", "a-1")
	require.NoError(t, err)
	require.NotNil(t, mapA)
	mapB, err := env.store.GetMapping(ctx, env.db, "frame-b", "b-9")
	require.NoError(t, err)
	require.NotNil(t, mapB)
	assert.Equal(t, mapA.OrbitEventID, mapB.OrbitEventID)

	done, err := env.store.BootstrapComplete(ctx, env.db, def.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestBootstrap_RunsOnlyOnce(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	def := testDefinition()

	_, err := env.engine.RunSync(ctx, def, ModeRun)
	require.NoError(t, err)

	// A pre-existing duplicate appearing after bootstrap is handled by the
	// normal pass, not by a second bootstrap.
	start := soon()
	env.fakes["frame-a"].add(nativeEvent("a-2", "Recital", start))
	env.fakes["frame-b"].add(nativeEvent("b-2", "Recital", start))

	_, err = env.engine.RunSync(ctx, def, ModeRun)
	require.NoError(t, err)

	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Equal(t, 1, count, "content matching still folds the duplicate into one event")
}

func TestBootstrap_ReconcileModeForcesRerun(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	def := testDefinition()

	_, err := env.engine.RunSync(ctx, def, ModeRun)
	require.NoError(t, err)

	start := soon()
	env.fakes["frame-a"].add(nativeEvent("a-3", "Camping trip", start))
	env.fakes["frame-b"].add(nativeEvent("b-3", "Camping trip", start))

	_, err = env.engine.RunSync(ctx, def, ModeReconcile)
	require.NoError(t, err)

	mapA, err := env.store.GetMapping(ctx, env.db, "frame-a", "a-3")
	require.NoError(t, err)
	require.NotNil(t, mapA)
	mapB, err := env.store.GetMapping(ctx, env.db, "frame-b", "b-3")
	require.NoError(t, err)
	require.NotNil(t, mapB)
	assert.Equal(t, mapA.OrbitEventID, mapB.OrbitEventID)

	createdA, _, _ := env.fakes["frame-a"].snapshot()
	createdB, _, _ := env.fakes["frame-b"].snapshot()
	assert.Equal(t, 0, createdA)
	assert.Equal(t, 0, createdB)
}

func TestBootstrap_SingleProviderEventsLeftToNormalPass(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	def := testDefinition()

	env.fakes["frame-a"].add(nativeEvent("a-4", "Only here", soon()))

	_, err := env.engine.RunSync(ctx, def, ModeRun)
	require.NoError(t, err)

	// The normal pass created it on the other side; bootstrap itself did not
	// need to touch it.
	createdB, _, _ := env.fakes["frame-b"].snapshot()
	assert.Equal(t, 1, createdB)

	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Equal(t, 1, count)
}
