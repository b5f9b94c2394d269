// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storage provides the durable stores that back the charm
// framework: snapshots of persisted objects keyed by handle path, and an
// ordered log of pending notices.
package storage

import (
	"fmt"
	"iter"

	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("juju.ops.storage")

// Notice records that an observer has not yet finished processing an
// emitted event.
type Notice struct {
	// Sequence orders notices by insertion. It is the only ordering key
	// used when notices are replayed.
	Sequence int64

	// EventPath is the handle path of the emitted event.
	EventPath string

	// ObserverPath is the handle path of the observing object.
	ObserverPath string

	// MethodName names the observer's handler for the event.
	MethodName string
}

// String implements fmt.Stringer.
func (n Notice) String() string {
	return fmt.Sprintf("%s -> %s.%s", n.EventPath, n.ObserverPath, n.MethodName)
}

// Storage is the interface the framework uses to persist snapshots and
// notices. All operations since the last Commit form a single
// transaction; there is no way to roll back part of it.
type Storage interface {
	// SaveSnapshot stores data under handlePath, replacing any
	// previous value.
	SaveSnapshot(handlePath string, data []byte) error

	// LoadSnapshot returns the data stored under handlePath. An error
	// satisfying errors.Is(err, errors.NotFound) is returned if there
	// is none.
	LoadSnapshot(handlePath string) ([]byte, error)

	// DropSnapshot removes the data stored under handlePath, if any.
	DropSnapshot(handlePath string) error

	// SaveNotice appends a notice to the log.
	SaveNotice(eventPath, observerPath, methodName string) error

	// Notices returns the pending notices in insertion order. If
	// eventPath is empty all notices are returned, otherwise only
	// those for that event.
	Notices(eventPath string) iter.Seq2[Notice, error]

	// DropNotice removes the notice exactly matching the arguments,
	// if any.
	DropNotice(eventPath, observerPath, methodName string) error

	// Commit makes every change since the last commit durable.
	Commit() error

	// Close releases the storage. Uncommitted changes are lost.
	Close() error
}
