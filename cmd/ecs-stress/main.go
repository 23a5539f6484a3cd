package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/plus3/chunkecs/ecs"
	"github.com/plus3/chunkecs/ecs/snapshot"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("stress test failed")
	}
}

func run(cfg Config, logger zerolog.Logger) error {
	logger.Info().Msg("Starting ECS stress test...")

	registry := ecs.NewComponentRegistry()
	if err := registerComponents(registry); err != nil {
		return err
	}
	storage := ecs.NewStorage(registry, ecs.WithLogger(logger), ecs.WithName("stress"))
	storage.Logger().LogComponents(registry, zerolog.DebugLevel)

	w, err := newWorld(storage, cfg)
	if err != nil {
		return err
	}

	spawn := &SpawnSystem{PerFrame: cfg.SpawnPerFrame, Workers: cfg.Workers, Teams: cfg.Teams}
	damage := &DamageSystem{}
	cleanup := &CleanupSystem{}
	census := &TeamCensusSystem{}
	watch := &HealthWatchSystem{}

	scheduler := ecs.NewScheduler(storage)
	scheduler.Register(&MovementSystem{Workers: cfg.Workers})
	scheduler.Register(&WaypointSystem{})
	scheduler.Register(damage)
	scheduler.Register(&RetargetSystem{rng: rand.New(rand.NewSource(cfg.Seed + 1))})
	scheduler.Register(watch)
	scheduler.Register(cleanup)
	scheduler.Register(spawn)
	scheduler.Register(census)

	logger.Info().Int("entities", cfg.Entities).Msg("Populating storage...")
	if err := w.populate(cfg.Entities); err != nil {
		return err
	}
	if err := storage.CheckInternalConsistency(); err != nil {
		return err
	}
	logger.Info().Msg("Population complete.")

	report := &Report{
		Config:     cfg,
		Components: registry.Count(),
		Systems:    len(scheduler.GetStats().Systems),
	}
	var memStart, memEnd runtime.MemStats
	runtime.ReadMemStats(&memStart)

	logger.Info().Dur("duration", cfg.Duration).Msg("Running simulation...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	began := time.Now()
	prev := began
	for ctx.Err() == nil {
		frameStart := time.Now()
		dt := frameStart.Sub(prev).Seconds()
		prev = frameStart
		if err := scheduler.Once(dt); err != nil {
			return err
		}
		report.Frames.Record(time.Since(frameStart))

		if cfg.CheckEveryFrame {
			if err := storage.CheckInternalConsistency(); err != nil {
				return err
			}
		}
	}

	if err := storage.DependencyManager().CompleteAll(); err != nil {
		return err
	}
	report.TotalTime = time.Since(began)
	runtime.ReadMemStats(&memEnd)
	report.Memory = measureMemory(&memStart, &memEnd)

	if err := storage.CheckInternalConsistency(); err != nil {
		return err
	}
	logger.Info().Int("frames", report.Frames.Count()).Msg("Simulation finished.")

	report.Storage = storage.CollectStats()
	report.Scheduler = scheduler.GetStats()
	report.Spawned = spawn.Spawned.Load()
	report.Destroyed = damage.Destroyed
	report.Cleaned = cleanup.Cleaned
	report.Teams = census.Counts
	report.LastChanged = watch.LastChanged

	if cfg.Snapshot != "" {
		if report.Snapshot, err = saveSnapshot(cfg.Snapshot, storage, registry, logger); err != nil {
			return err
		}
	}

	fmt.Println("\n\n--- Stress Test Report ---")
	if err := report.Generate(os.Stdout); err != nil {
		return err
	}
	fmt.Println("--- End of Report ---")

	logger.Info().Msg("Stress test complete.")
	return nil
}

// saveSnapshot writes the storage to Redis and reads it back into a fresh
// storage to verify the round trip.
func saveSnapshot(target string, storage *ecs.Storage, registry *ecs.ComponentRegistry, logger zerolog.Logger) (*SnapshotReport, error) {
	addr := target
	if target == "embedded" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, err
		}
		defer mr.Close()
		addr = mr.Addr()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	store := snapshot.NewRedisStore(client)

	start := time.Now()
	info, err := snapshot.SaveStorage(ctx, store, storage)
	if err != nil {
		return nil, err
	}
	saved := time.Since(start)

	restored := ecs.NewStorage(registry, ecs.WithLogger(logger), ecs.WithName("restored"))
	start = time.Now()
	if _, err := snapshot.LoadLatest(ctx, store, storage.Name(), restored); err != nil {
		return nil, err
	}
	loaded := time.Since(start)
	if err := restored.CheckInternalConsistency(); err != nil {
		return nil, err
	}

	return &SnapshotReport{
		Key:      info.Key,
		Bytes:    info.Size,
		SaveTime: saved,
		LoadTime: loaded,
		Entities: restored.EntityCount(),
	}, nil
}
