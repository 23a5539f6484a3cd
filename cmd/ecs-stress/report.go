package main

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"text/template"
	"time"

	"github.com/plus3/chunkecs/ecs"
)

type Report struct {
	Config     Config
	Components int
	Systems    int

	Frames    FrameTimes
	TotalTime time.Duration
	Memory    MemoryUsage

	Storage     *ecs.StorageStats
	Scheduler   *ecs.SchedulerStats
	Spawned     int64
	Destroyed   int64
	Cleaned     int64
	LastChanged int
	Teams       map[int32]int
	Snapshot    *SnapshotReport
}

type SnapshotReport struct {
	Key      string
	Bytes    int
	SaveTime time.Duration
	LoadTime time.Duration
	Entities int
}

// FrameTimes collects the duration of every scheduler frame.
type FrameTimes struct {
	samples []time.Duration
}

func (f *FrameTimes) Record(d time.Duration) {
	f.samples = append(f.samples, d)
}

func (f *FrameTimes) Count() int {
	return len(f.samples)
}

func (f *FrameTimes) Min() time.Duration {
	if len(f.samples) == 0 {
		return 0
	}
	return slices.Min(f.samples)
}

func (f *FrameTimes) Max() time.Duration {
	if len(f.samples) == 0 {
		return 0
	}
	return slices.Max(f.samples)
}

func (f *FrameTimes) Avg() time.Duration {
	if len(f.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range f.samples {
		total += d
	}
	return total / time.Duration(len(f.samples))
}

// Percentile returns the nearest-rank percentile p in [0, 100].
func (f *FrameTimes) Percentile(p float64) time.Duration {
	if len(f.samples) == 0 {
		return 0
	}
	sorted := slices.Sorted(slices.Values(f.samples))
	rank := int(p / 100 * float64(len(sorted)-1))
	return sorted[rank]
}

// MemoryUsage is the change in runtime memory statistics over the run.
type MemoryUsage struct {
	HeapAllocStart uint64
	HeapAllocEnd   uint64
	TotalAlloc     uint64
	Sys            int64
	GCCycles       uint32
	GCPause        time.Duration
}

func measureMemory(start, end *runtime.MemStats) MemoryUsage {
	return MemoryUsage{
		HeapAllocStart: start.HeapAlloc,
		HeapAllocEnd:   end.HeapAlloc,
		TotalAlloc:     end.TotalAlloc - start.TotalAlloc,
		Sys:            int64(end.Sys) - int64(start.Sys),
		GCCycles:       end.NumGC - start.NumGC,
		GCPause:        time.Duration(end.PauseTotalNs - start.PauseTotalNs),
	}
}

const reportTemplate = `
# ECS Stress Test Report

## Test Configuration
- **Run Duration:** {{.Config.Duration}}
- **Initial Entities:** {{.Config.Entities}}
- **Workers:** {{.Config.Workers}}
- **Spawned Per Frame:** {{.Config.SpawnPerFrame}}
- **Registered Components:** {{.Components}}
- **Systems:** {{.Systems}}

## Frames
- **Frames Run:** {{.Frames.Count}} in {{.TotalTime}}
- **Frame Time:** avg {{.Frames.Avg}}, p95 {{.Frames.Percentile 95}}, min {{.Frames.Min}}, max {{.Frames.Max}}
{{- range .Scheduler.Systems}}
- **{{.Name}}:** {{.ExecutionCount}} runs, avg {{.AvgDuration}}, min {{.MinDuration}}, max {{.MaxDuration}}
{{- end}}

## Storage
- **Entities:** {{.Storage.TotalEntityCount}} ({{.Spawned}} spawned, {{.Destroyed}} destroyed, {{.Cleaned}} cleaned up)
- **Archetypes:** {{.Storage.ArchetypeCount}}
- **Chunks:** {{.Storage.ChunkCount}}
- **Shared Values:** {{.Storage.SharedValueCount}}
- **Buffer Overflows:** {{.Storage.BufferOverflows}}
- **Health Changed Last Frame:** {{.LastChanged}}
{{- range .Storage.ArchetypeBreakdown}}
{{- if .EntityCount}}
  - archetype {{.Index}}: {{.EntityCount}} entities in {{.ChunkCount}} chunks of {{.ChunkCapacity}} ({{pct .Utilization}}) {{.ComponentType}}
{{- end}}
{{- end}}

## Teams
{{- range $team, $count := .Teams}}
- team {{$team}}: {{$count}}
{{- end}}

## Memory
- **Heap:** {{mb .Memory.HeapAllocStart}} MB -> {{mb .Memory.HeapAllocEnd}} MB
- **Allocated During Run:** {{mb .Memory.TotalAlloc}} MB
- **Sys Delta:** {{.Memory.Sys}} bytes
{{- if .Config.GCPauseMetrics}}
- **GC:** {{.Memory.GCCycles}} cycles, {{.Memory.GCPause}} paused
{{- end}}
{{- with .Snapshot}}

## Snapshot
- **Key:** {{.Key}}
- **Size:** {{mb .Bytes}} MB
- **Save:** {{.SaveTime}}, **Load:** {{.LoadTime}}, **Restored Entities:** {{.Entities}}
{{- end}}
`

var reportFuncs = template.FuncMap{
	"mb": func(v any) string {
		switch n := v.(type) {
		case uint64:
			return fmt.Sprintf("%.2f", float64(n)/(1<<20))
		case int:
			return fmt.Sprintf("%.2f", float64(n)/(1<<20))
		}
		return "N/A"
	},
	"pct": func(v float64) string {
		return fmt.Sprintf("%.0f%%", v*100)
	},
}

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncs).Parse(reportTemplate))

func (r *Report) Generate(w io.Writer) error {
	return reportTmpl.Execute(w, r)
}
