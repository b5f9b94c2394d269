// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmd is a small command line framework for the tools shipped
// alongside the charm framework.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("juju.ops.cmd")

// ErrSilent can be returned from Run to signal that Main should exit
// with an error code without printing anything.
var ErrSilent = errors.New("cmd: error out silently")

// Context represents the run context of a Command. Command
// implementations should interpret file names relative to Dir (see
// AbsPath) and use its streams instead of the os ones.
type Context struct {
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultContext returns a Context using the process's working
// directory and standard streams.
func DefaultContext() (*Context, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Context{
		Dir:    dir,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// AbsPath returns an absolute representation of path, relative to the
// context's working directory.
func (ctx *Context) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ctx.Dir, path)
}

// Info holds everything necessary to describe a Command's intent and usage.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string

	// Intersperse controls whether the Command will accept interspersed
	// options and positional args.
	Intersperse bool
}

// Usage combines Name and Args to describe the Command's intended usage.
func (i *Info) Usage() string {
	if i.Args == "" {
		return i.Name
	}
	return fmt.Sprintf("%s [options] %s", i.Name, i.Args)
}

// Command is implemented by the commands a tool runs.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds the command's options to f.
	SetFlags(f *gnuflag.FlagSet)

	// Init is called with the positional arguments left after the
	// options have been parsed.
	Init(args []string) error

	// Run executes the command as set up by Init.
	Run(ctx *Context) error
}

// NewFlagSet returns a FlagSet initialized for use with c. Errors are
// returned rather than exiting the process.
func NewFlagSet(c Command, output io.Writer) *gnuflag.FlagSet {
	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(output)
	f.Usage = func() {}
	c.SetFlags(f)
	return f
}

// PrintUsage writes usage information for c to w.
func PrintUsage(c Command, w io.Writer) {
	i := c.Info()
	fmt.Fprintf(w, "usage: %s\n", i.Usage())
	if i.Purpose != "" {
		fmt.Fprintf(w, "purpose: %s\n", i.Purpose)
	}
	f := NewFlagSet(c, w)
	hasOptions := false
	f.VisitAll(func(*gnuflag.Flag) { hasOptions = true })
	if hasOptions {
		fmt.Fprintf(w, "\noptions:\n")
		f.PrintDefaults()
	}
	if i.Doc != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(i.Doc))
	}
}

// Parse parses args on c. This must be called before c is Run.
func Parse(c Command, args []string) error {
	f := NewFlagSet(c, io.Discard)
	if err := f.Parse(c.Info().Intersperse, args); err != nil {
		return err
	}
	return c.Init(f.Args())
}

// CheckEmpty is a utility function that returns an error if args is not empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognised args: %s", args)
	}
	return nil
}

// Main parses and runs c, returning the exit code: 0 on success, 1 if
// Run failed and 2 if the arguments were not valid.
func Main(c Command, ctx *Context, args []string) int {
	if err := Parse(c, args); err != nil {
		if errors.Is(err, gnuflag.ErrHelp) {
			PrintUsage(c, ctx.Stdout)
			return 0
		}
		fmt.Fprintf(ctx.Stderr, "error: %v\n", err)
		PrintUsage(c, ctx.Stderr)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		if err == ErrSilent {
			return 1
		}
		logger.Debugf("%s command failed: %s", c.Info().Name, errors.ErrorStack(err))
		fmt.Fprintf(ctx.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
