// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package framework

import (
	"fmt"

	"github.com/juju/errors"
)

// NoTypeError is returned when loading a snapshot whose (parent, kind)
// pair has no registered type. Replays treat it as a stale notice.
type NoTypeError struct {
	HandlePath string
}

// Error implements error.
func (e *NoTypeError) Error() string {
	return fmt.Sprintf("cannot restore %s since no type was registered for it", e.HandlePath)
}

// IsNoTypeError reports whether err is or wraps a *NoTypeError.
func IsNoTypeError(err error) bool {
	var target *NoTypeError
	return errors.As(err, &target)
}

// NoSnapshotError is returned when loading a handle that has nothing
// stored for it.
type NoSnapshotError struct {
	HandlePath string
}

// Error implements error.
func (e *NoSnapshotError) Error() string {
	return fmt.Sprintf("no snapshot data found for %s object", e.HandlePath)
}

// IsNoSnapshotError reports whether err is or wraps a *NoSnapshotError.
func IsNoSnapshotError(err error) bool {
	var target *NoSnapshotError
	return errors.As(err, &target)
}
