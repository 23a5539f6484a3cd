package ecs

import "sync/atomic"

// Version is the global system version shared by storages, systems and
// command buffers. It is bumped once per externally visible write pass and
// recorded in chunks whenever a component column is written.
//
// The counter wraps around; 0 is never produced so that it can mean
// "never ran" for change filters.
type Version struct {
	v atomic.Uint32
}

// NewVersion returns a version counter starting at 1.
func NewVersion() *Version {
	return NewVersionAt(1)
}

// NewVersionAt returns a version counter starting at the given value.
func NewVersionAt(start uint32) *Version {
	if start == 0 {
		start = 1
	}
	v := &Version{}
	v.v.Store(start)
	return v
}

// Current returns the current version.
func (v *Version) Current() uint32 {
	return v.v.Load()
}

// Bump advances the version and returns the new value.
func (v *Version) Bump() uint32 {
	for {
		old := v.v.Load()
		next := old + 1
		if next == 0 {
			next = 1
		}
		if v.v.CompareAndSwap(old, next) {
			return next
		}
	}
}

// DidChange reports whether changeVersion is strictly newer than
// requiredVersion. The comparison survives wrap-around as long as the two
// values are less than 2^31 apart. A required version of 0 always reports a
// change.
func DidChange(changeVersion, requiredVersion uint32) bool {
	if requiredVersion == 0 {
		return true
	}
	return int32(changeVersion-requiredVersion) > 0
}
