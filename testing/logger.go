// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"

	"github.com/juju/loggo"
)

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger is a logger that logs to a *testing.T or *check.C and
// remembers every message, so tests can assert on what was logged.
type CheckLogger struct {
	Log CheckLog

	// Messages holds each message formatted as "LEVEL: message".
	Messages []string
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) *CheckLogger {
	return &CheckLogger{Log: log}
}

func (c *CheckLogger) Criticalf(msg string, args ...any) { c.Logf(loggo.CRITICAL, msg, args...) }
func (c *CheckLogger) Errorf(msg string, args ...any)    { c.Logf(loggo.ERROR, msg, args...) }
func (c *CheckLogger) Warningf(msg string, args ...any)  { c.Logf(loggo.WARNING, msg, args...) }
func (c *CheckLogger) Infof(msg string, args ...any)     { c.Logf(loggo.INFO, msg, args...) }
func (c *CheckLogger) Debugf(msg string, args ...any)    { c.Logf(loggo.DEBUG, msg, args...) }
func (c *CheckLogger) Tracef(msg string, args ...any)    { c.Logf(loggo.TRACE, msg, args...) }

// Logf records the message at level and passes it on to Log.
func (c *CheckLogger) Logf(level loggo.Level, msg string, args ...any) {
	line := fmt.Sprintf("%s: %s", level.String(), fmt.Sprintf(msg, args...))
	c.Messages = append(c.Messages, line)
	if c.Log != nil {
		c.Log.Logf("%s", line)
	}
}

// Logged returns the recorded messages at level.
func (c *CheckLogger) Logged(level loggo.Level) []string {
	prefix := level.String() + ": "
	var out []string
	for _, m := range c.Messages {
		if len(m) > len(prefix) && m[:len(prefix)] == prefix {
			out = append(out, m[len(prefix):])
		}
	}
	return out
}
