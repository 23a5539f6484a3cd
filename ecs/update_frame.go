package ecs

// UpdateFrame is passed to every system run by a Scheduler.
type UpdateFrame struct {
	DeltaTime float64

	// Commands records structural changes. The Scheduler plays them back
	// after every system of the frame ran.
	Commands *EntityCommandBuffer
	Storage  *Storage

	// Version is the global version the current system runs at and
	// LastSystemVersion the version of its previous run (0 on the first run).
	Version           uint32
	LastSystemVersion uint32

	// Logger carries the {"system": name} entry of the current system.
	Logger Logger
}

func newUpdateFrame(dt float64, storage *Storage) *UpdateFrame {
	return &UpdateFrame{
		DeltaTime: dt,
		Commands:  NewEntityCommandBuffer(storage.registry),
		Storage:   storage,
	}
}
