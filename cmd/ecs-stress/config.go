package main

import (
	"flag"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config controls a stress run. Values come from an optional YAML file and
// are overridden by flags given on the command line.
type Config struct {
	Duration        time.Duration `yaml:"duration"`
	Entities        int           `yaml:"entities"`
	Workers         int           `yaml:"workers"`
	SpawnPerFrame   int           `yaml:"spawn_per_frame"`
	Teams           int           `yaml:"teams"`
	Seed            int64         `yaml:"seed"`
	LogLevel        string        `yaml:"log_level"`
	GCPauseMetrics  bool          `yaml:"gc_pause_metrics"`
	CheckEveryFrame bool          `yaml:"check_every_frame"`

	// Snapshot is empty to disable snapshots, "embedded" for an in-process
	// Redis server, or the address of a Redis server.
	Snapshot string `yaml:"snapshot"`
}

func defaultConfig() Config {
	return Config{
		Duration:      10 * time.Second,
		Entities:      10000,
		Workers:       4,
		SpawnPerFrame: 64,
		Teams:         4,
		Seed:          1,
		LogLevel:      "info",
	}
}

func loadConfig(args []string) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("ecs-stress", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file.")
	duration := fs.Duration("duration", cfg.Duration, "The total duration the test should run for.")
	entities := fs.Int("entities", cfg.Entities, "The initial number of entities to create.")
	workers := fs.Int("workers", cfg.Workers, "The maximum number of chunks processed in parallel.")
	spawn := fs.Int("spawn", cfg.SpawnPerFrame, "Entities spawned through command buffers per frame.")
	teams := fs.Int("teams", cfg.Teams, "Number of shared team values entities are spread over.")
	seed := fs.Int64("seed", cfg.Seed, "Random seed.")
	level := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error).")
	gc := fs.Bool("gc-pause-metrics", cfg.GCPauseMetrics, "Enable detailed GC pause metrics in the report.")
	check := fs.Bool("check", cfg.CheckEveryFrame, "Run the internal consistency check after every frame.")
	snap := fs.String("snapshot", cfg.Snapshot, `Snapshot target: "", "embedded" or a Redis address.`)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *path != "" {
		data, err := os.ReadFile(*path)
		if err != nil {
			return cfg, eris.Wrapf(err, "read config %s", *path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "parse config %s", *path)
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if set[name] {
			apply()
		}
	}
	override("duration", func() { cfg.Duration = *duration })
	override("entities", func() { cfg.Entities = *entities })
	override("workers", func() { cfg.Workers = *workers })
	override("spawn", func() { cfg.SpawnPerFrame = *spawn })
	override("teams", func() { cfg.Teams = *teams })
	override("seed", func() { cfg.Seed = *seed })
	override("log-level", func() { cfg.LogLevel = *level })
	override("gc-pause-metrics", func() { cfg.GCPauseMetrics = *gc })
	override("check", func() { cfg.CheckEveryFrame = *check })
	override("snapshot", func() { cfg.Snapshot = *snap })

	if cfg.Teams < 1 {
		return cfg, eris.New("teams must be at least 1")
	}
	return cfg, nil
}
