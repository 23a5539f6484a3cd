package ecs_test

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/plus3/chunkecs/ecs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectStats(t *testing.T) {
	s := newTestStorage(t)
	a := archetypeOf(t, s, typeIndex[Position](t, s), typeIndex[Velocity](t, s))
	out := make([]ecs.Entity, a.ChunkCapacity()+1)
	require.NoError(t, s.CreateEntities(a, out))
	e := spawnWithItems(t, s, make([]Item, 33)...)
	require.NoError(t, ecs.AddSharedComponentData(s, e, Team{ID: 8}))

	stats := s.CollectStats()
	assert.Equal(t, len(out)+1, stats.TotalEntityCount)
	assert.Equal(t, 1, stats.SharedValueCount)
	assert.Equal(t, 1, stats.BufferOverflows)
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, len(s.Archetypes()), stats.ArchetypeCount)

	var movers ecs.ArchetypeStats
	for _, as := range stats.ArchetypeBreakdown {
		if as.Index == a.Index() {
			movers = as
		}
	}
	assert.Equal(t, []string{"Position", "Velocity"}, movers.ComponentType)
	assert.Equal(t, 2, movers.ChunkCount)
	assert.InDelta(t, float64(len(out))/float64(2*a.ChunkCapacity()), movers.Utilization, 1e-9)
}

func TestPoisonUnusedChunkMemory(t *testing.T) {
	s := newTestStorage(t)
	a := archetypeOf(t, s, typeIndex[Position](t, s), typeIndex[Item](t, s))
	first := spawn(t, s, typeIndex[Position](t, s), typeIndex[Item](t, s))
	require.NoError(t, ecs.SetComponentData(s, first, Position{X: 1, Y: 2}))
	full := make([]ecs.Entity, a.ChunkCapacity()-1)
	require.NoError(t, s.CreateEntities(a, full))
	spawn(t, s, typeIndex[Position](t, s), typeIndex[Item](t, s))

	require.NoError(t, s.PoisonUnusedChunkMemory(a, 0xCD))
	p, err := ecs.GetComponentData[Position](s, first)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 1, Y: 2}, p, "live rows are untouched")

	e := spawn(t, s, typeIndex[Position](t, s), typeIndex[Item](t, s))
	p, err = ecs.GetComponentData[Position](s, e)
	require.NoError(t, err)
	assert.Equal(t, Position{}, p, "new rows are zeroed")
	buf, err := ecs.GetBufferReadOnly[Item](s, e)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Len())
	requireConsistent(t, s)

	other := ecs.NewStorage(s.Registry())
	assert.ErrorIs(t, other.PoisonUnusedChunkMemory(a, 0), ecs.ErrArgument)
}

func TestConsistencyUnderRandomChanges(t *testing.T) {
	s := newTestStorage(t)
	rng := rand.New(rand.NewPCG(1, 2))
	health := typeIndex[Health](t, s)
	vel := typeIndex[Velocity](t, s)

	var live []ecs.Entity
	for step := range 3000 {
		switch op := rng.IntN(6); {
		case op == 0 || len(live) < 8:
			live = append(live, spawnMover(t, s, float32(step), 0))
		case op == 1:
			i := rng.IntN(len(live))
			require.NoError(t, s.DestroyEntity(live[i]))
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		case op == 2:
			e := live[rng.IntN(len(live))]
			if !ecs.HasComponent[Health](s, e) {
				require.NoError(t, s.AddComponent(e, health))
			}
		case op == 3:
			e := live[rng.IntN(len(live))]
			if ecs.HasComponent[Velocity](s, e) {
				require.NoError(t, s.RemoveComponent(e, vel))
			}
		case op == 4:
			e := live[rng.IntN(len(live))]
			team := Team{ID: int32(rng.IntN(4))}
			if ecs.HasComponent[Team](s, e) {
				require.NoError(t, ecs.SetSharedComponentData(s, e, team))
			} else {
				require.NoError(t, ecs.AddSharedComponentData(s, e, team))
			}
		case op == 5:
			e := live[rng.IntN(len(live))]
			var buf ecs.DynamicBuffer[Item]
			var err error
			if ecs.HasComponent[Item](s, e) {
				buf, err = ecs.GetBuffer[Item](s, e)
			} else {
				buf, err = ecs.AddBuffer[Item](s, e)
			}
			require.NoError(t, err)
			for range rng.IntN(40) {
				buf.Add(Item(step))
			}
		}
		if step%500 == 0 {
			requireConsistent(t, s)
		}
	}
	requireConsistent(t, s)
	assert.Equal(t, len(live), s.EntityCount())
	for _, e := range live {
		assert.True(t, s.Exists(e))
	}
}

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	return events
}

func TestStorageLogging(t *testing.T) {
	var buf bytes.Buffer
	s := ecs.NewStorage(newTestRegistry(), ecs.WithName("arena"), ecs.WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	spawnMover(t, s, 0, 0)

	events := decodeLogLines(t, &buf)
	require.NotEmpty(t, events)
	assert.Equal(t, "arena", events[0]["storage"])
	messages := make([]any, len(events))
	for i, ev := range events {
		messages[i] = ev["message"]
	}
	assert.Contains(t, messages, "chunk allocated")
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := ecs.NewLogger(zerolog.New(&buf))
	s := newTestStorage(t)
	e := spawnMover(t, s, 0, 0)

	logger.LogEntity(s, e, zerolog.InfoLevel)
	logger.LogStats(s, zerolog.InfoLevel)
	logger.CreateSystemLogger("physics").Info().Msg("tick")
	require.NoError(t, s.DestroyEntity(e))
	logger.LogEntity(s, e, zerolog.InfoLevel)

	events := decodeLogLines(t, &buf)
	require.Len(t, events, 4)

	entity := events[0]
	assert.Equal(t, float64(e.Index), entity["entity_id"])
	components, ok := entity["components"].([]any)
	require.True(t, ok)
	assert.Len(t, components, 3, "the entity column counts as a component")

	assert.Equal(t, float64(1), events[1]["entities"])
	assert.Equal(t, "physics", events[2]["system"])
	assert.Equal(t, "error", events[3]["level"])
}

func TestLogComponentsAndArchetypes(t *testing.T) {
	var buf bytes.Buffer
	logger := ecs.NewLogger(zerolog.New(&buf))
	s := newTestStorage(t)
	spawnMover(t, s, 0, 0)

	logger.LogComponents(s.Registry(), zerolog.InfoLevel)
	logger.LogArchetypes(s, zerolog.InfoLevel)

	events := decodeLogLines(t, &buf)
	require.Len(t, events, 1+len(s.Archetypes()))
	assert.Equal(t, float64(s.Registry().Count()), events[0]["total_components"])
}
