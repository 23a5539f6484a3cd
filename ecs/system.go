package ecs

// System represents a behavior that operates on entities with specific components.
// User-defined systems should implement this interface and can include Query
// and Singleton fields, which the Scheduler initializes, as well as custom
// state fields that persist between frames.
type System interface {
	Execute(frame *UpdateFrame) error
}

// storageBinder is implemented by Query and Singleton fields.
type storageBinder interface {
	Init(storage *Storage)
}

// framePreparer is implemented by fields that refresh before each system run.
type framePreparer interface {
	prepare(lastSystemVersion uint32)
}
