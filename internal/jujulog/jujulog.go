// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jujulog sends log output to the unit's Juju log through the
// juju-log hook tool.
package jujulog

import (
	"fmt"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/ops/internal/hooktool"
)

// WriterName is the name the writer is registered with loggo under.
const WriterName = "juju-log"

// Writer is a loggo.Writer that runs juju-log for every entry.
type Writer struct {
	runner   hooktool.Runner
	fallback io.Writer
}

// NewWriter returns a Writer running juju-log with runner. Entries that
// cannot be sent are written to fallback instead.
func NewWriter(runner hooktool.Runner, fallback io.Writer) *Writer {
	return &Writer{
		runner:   runner,
		fallback: fallback,
	}
}

// Write is part of the loggo.Writer interface.
func (w *Writer) Write(entry loggo.Entry) {
	message := fmt.Sprintf("%s: %s", entry.Module, entry.Message)
	_, err := w.runner.Run("juju-log", nil, "--log-level", entry.Level.String(), "--", message)
	if err != nil && w.fallback != nil {
		ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
		fmt.Fprintf(w.fallback, "%s %s %s\n", ts, entry.Level, message)
		fmt.Fprintf(w.fallback, "%s %s juju-log failed: %v\n", ts, loggo.ERROR, err)
	}
}

// Install registers a Writer for runner with loggo and sets the level of
// the root logger.
func Install(runner hooktool.Runner, fallback io.Writer, level loggo.Level) error {
	// Main may run more than once in a process, as it does in tests.
	_, _ = loggo.RemoveWriter(WriterName)
	if err := loggo.RegisterWriter(WriterName, NewWriter(runner, fallback)); err != nil {
		return errors.Trace(err)
	}
	if level != loggo.UNSPECIFIED {
		loggo.GetLogger("").SetLogLevel(level)
	}
	return nil
}
