package ecs

import (
	"context"
	"reflect"
	"time"

	"github.com/rotisserie/eris"
)

// SchedulerStats provides statistics about scheduler execution.
type SchedulerStats struct {
	SystemCount     int
	TotalExecutions int64
	Frames          int64
	Systems         []SystemStats
}

// SystemStats provides execution statistics for a single system.
type SystemStats struct {
	Name              string
	ExecutionCount    int64
	MinDuration       time.Duration
	MaxDuration       time.Duration
	AvgDuration       time.Duration
	LastDuration      time.Duration
	TotalDuration     time.Duration
	LastSystemVersion uint32
}

type scheduledSystem struct {
	system    System
	preparers []framePreparer
	logger    Logger
	stats     SystemStats
}

func (sys *scheduledSystem) record(d time.Duration, version uint32) {
	st := &sys.stats
	if st.ExecutionCount == 0 || d < st.MinDuration {
		st.MinDuration = d
	}
	st.MaxDuration = max(st.MaxDuration, d)
	st.ExecutionCount++
	st.LastDuration = d
	st.TotalDuration += d
	st.AvgDuration = st.TotalDuration / time.Duration(st.ExecutionCount)
	st.LastSystemVersion = version
}

// Scheduler runs systems in registration order. Every system run bumps the
// global version, so change filters of one system see the writes of every
// system that ran since its previous run. Commands recorded into the frame's
// command buffer are played back once all systems ran.
type Scheduler struct {
	storage *Storage
	systems []*scheduledSystem
	frames  int64
}

// NewScheduler creates a new scheduler for the given storage.
func NewScheduler(storage *Storage) *Scheduler {
	return &Scheduler{
		storage: storage,
	}
}

// Register adds a system to the scheduler and initializes its Query and
// Singleton fields.
func (s *Scheduler) Register(system System) {
	t := reflect.TypeOf(system)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s.systems = append(s.systems, &scheduledSystem{
		system:    system,
		preparers: s.initializeFields(system),
		logger:    s.storage.Logger().CreateSystemLogger(t.Name()),
		stats:     SystemStats{Name: t.Name()},
	})
}

func (s *Scheduler) initializeFields(system System) []framePreparer {
	systemValue := reflect.ValueOf(system)
	if systemValue.Kind() == reflect.Pointer {
		systemValue = systemValue.Elem()
	}
	if systemValue.Kind() != reflect.Struct {
		return nil
	}

	var preparers []framePreparer
	for i := 0; i < systemValue.NumField(); i++ {
		field := systemValue.Field(i)
		if !field.CanSet() || field.Kind() != reflect.Struct {
			continue
		}
		binder, ok := field.Addr().Interface().(storageBinder)
		if !ok {
			continue
		}
		binder.Init(s.storage)
		if p, ok := binder.(framePreparer); ok {
			preparers = append(preparers, p)
		}
	}
	return preparers
}

// Once executes all registered systems once with the given delta time, then
// plays back the frame's command buffer. It stops at the first failing
// system; the commands recorded so far are discarded.
func (s *Scheduler) Once(dt float64) error {
	frame := newUpdateFrame(dt, s.storage)
	defer frame.Commands.Dispose()

	for _, sys := range s.systems {
		last := sys.stats.LastSystemVersion
		frame.Version = s.storage.version.Bump()
		frame.LastSystemVersion = last
		frame.Logger = sys.logger
		for _, p := range sys.preparers {
			p.prepare(last)
		}

		start := time.Now()
		err := sys.system.Execute(frame)
		sys.record(time.Since(start), frame.Version)
		if err != nil {
			sys.logger.Error().Err(err).Msg("system failed")
			return eris.Wrapf(err, "system %s", sys.stats.Name)
		}
	}

	s.frames++
	// jobs scheduled by the systems may still be recording
	if err := frame.Commands.completeProducers(); err != nil {
		return eris.Wrap(err, "command buffer producer failed")
	}
	if err := s.storage.deps.CompleteAll(); err != nil {
		return err
	}
	if frame.Commands.IsEmpty() {
		return nil
	}
	return frame.Commands.Playback(s.storage)
}

// Run executes all systems repeatedly at the given interval until the context
// is cancelled or a frame fails.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			if err := s.Once(dt); err != nil {
				return err
			}
		}
	}
}

// GetStats returns a copy of the execution statistics.
func (s *Scheduler) GetStats() *SchedulerStats {
	stats := &SchedulerStats{
		SystemCount: len(s.systems),
		Frames:      s.frames,
		Systems:     make([]SystemStats, 0, len(s.systems)),
	}
	for _, sys := range s.systems {
		stats.Systems = append(stats.Systems, sys.stats)
		stats.TotalExecutions += sys.stats.ExecutionCount
	}
	return stats
}
