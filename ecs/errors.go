package ecs

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrArgument reports a precondition failure caused by the caller: a dead
	// entity, a type that is already present or missing, a duplicate destroy,
	// an invalid type shape or a cross-storage misuse.
	ErrArgument = eris.New("ecs: invalid argument")

	// ErrInvalidOperation reports a usage error: a stale or read-only view, an
	// unsynchronized access, use after playback or disposal, or data access on
	// a tag component.
	ErrInvalidOperation = eris.New("ecs: invalid operation")

	// ErrInvalidComponentType is returned when a shape cannot be registered
	// for the requested category.
	ErrInvalidComponentType = classError{ErrArgument, "ecs: invalid component type"}

	// ErrInvalidCapacity is returned when not a single entity of an archetype
	// fits into one chunk.
	ErrInvalidCapacity = classError{ErrArgument, "ecs: archetype does not fit into a chunk"}

	// ErrEntityNotFound is returned when an entity handle is not alive.
	ErrEntityNotFound = classError{ErrArgument, "ecs: entity does not exist"}
)

// classError is a refined sentinel that also matches its parent class, so
// errors.Is(ErrEntityNotFound, ErrArgument) holds.
type classError struct {
	parent error
	msg    string
}

func (e classError) Error() string { return e.msg }

func (e classError) Is(target error) bool { return target == e.parent }

func argumentError(format string, args ...any) error {
	return eris.Wrap(ErrArgument, fmt.Sprintf(format, args...))
}

func invalidOperation(format string, args ...any) error {
	return eris.Wrap(ErrInvalidOperation, fmt.Sprintf(format, args...))
}

func entityNotFound(e Entity) error {
	return eris.Wrapf(ErrEntityNotFound, "%v", e)
}

// usagePanic aborts a hot-path call (element access on a view) with an error
// value that matches ErrInvalidOperation.
func usagePanic(format string, args ...any) {
	panic(invalidOperation(format, args...))
}
