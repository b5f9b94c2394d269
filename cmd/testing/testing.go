// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"bytes"
	"io"

	gc "gopkg.in/check.v1"

	"github.com/juju/ops/cmd"
)

// Context returns a command context rooted at dir, with empty stdin and
// buffered stdout and stderr.
func Context(dir string) *cmd.Context {
	return &cmd.Context{
		Dir:    dir,
		Stdin:  &bytes.Buffer{},
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}
}

// ContextForDir returns a Context rooted at a fresh temporary directory.
func ContextForDir(c *gc.C) *cmd.Context {
	return Context(c.MkDir())
}

// NullContext returns a no-op command context.
func NullContext(c *gc.C) *cmd.Context {
	ctx := ContextForDir(c)
	ctx.Stdin = io.LimitReader(nil, 0)
	ctx.Stdout = io.Discard
	ctx.Stderr = io.Discard
	return ctx
}

// Stdout returns the output written to a context made by Context.
func Stdout(ctx *cmd.Context) string {
	return ctx.Stdout.(*bytes.Buffer).String()
}

// Stderr returns the error output written to a context made by Context.
func Stderr(ctx *cmd.Context) string {
	return ctx.Stderr.(*bytes.Buffer).String()
}

// RunCommand runs com through cmd.Main in a fresh context rooted at dir
// and returns the exit code and the text written to stdout and stderr.
func RunCommand(c *gc.C, com cmd.Command, dir string, args ...string) (code int, stdout, stderr string) {
	ctx := Context(dir)
	code = cmd.Main(com, ctx, args)
	c.Logf("%s %v exited %d", com.Info().Name, args, code)
	return code, Stdout(ctx), Stderr(ctx)
}
