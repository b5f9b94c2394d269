// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

// SuperCommandParams provides a way to have default parameter to the
// NewSuperCommand call.
type SuperCommandParams struct {
	Name    string
	Purpose string
	Doc     string

	// SetCommonFlags adds the options shared by every subcommand. They
	// must come before the subcommand name.
	SetCommonFlags func(f *gnuflag.FlagSet)
}

// SuperCommand is a Command that selects a subcommand and assumes its
// properties.
type SuperCommand struct {
	params  SuperCommandParams
	subcmds map[string]Command
	subcmd  Command
}

// NewSuperCommand creates and initializes a new SuperCommand.
func NewSuperCommand(p SuperCommandParams) *SuperCommand {
	return &SuperCommand{
		params:  p,
		subcmds: make(map[string]Command),
	}
}

// Register makes a subcommand available for use on the command line.
func (c *SuperCommand) Register(subcmd Command) {
	name := subcmd.Info().Name
	if _, found := c.subcmds[name]; found {
		panic(fmt.Sprintf("command already registered: %q", name))
	}
	c.subcmds[name] = subcmd
}

// Info is part of the Command interface.
func (c *SuperCommand) Info() *Info {
	if c.subcmd != nil {
		info := *c.subcmd.Info()
		info.Name = fmt.Sprintf("%s %s", c.params.Name, info.Name)
		return &info
	}
	return &Info{
		Name:    c.params.Name,
		Args:    "<command> ...",
		Purpose: c.params.Purpose,
		Doc:     strings.TrimSpace(c.params.Doc + "\n\n" + c.describeCommands()),
	}
}

func (c *SuperCommand) describeCommands() string {
	names := make([]string, 0, len(c.subcmds))
	for name := range c.subcmds {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := []string{"commands:"}
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("    %-10s - %s", name, c.subcmds[name].Info().Purpose))
	}
	return strings.Join(lines, "\n")
}

// SetFlags is part of the Command interface.
func (c *SuperCommand) SetFlags(f *gnuflag.FlagSet) {
	if c.params.SetCommonFlags != nil {
		c.params.SetCommonFlags(f)
	}
	if c.subcmd != nil {
		c.subcmd.SetFlags(f)
	}
}

// Init is part of the Command interface. It picks the subcommand named
// by the first argument and parses the rest on it.
func (c *SuperCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no command specified")
	}
	subcmd, found := c.subcmds[args[0]]
	if !found {
		return errors.Errorf("unrecognised command: %s %s", c.params.Name, args[0])
	}
	c.subcmd = subcmd
	return Parse(subcmd, args[1:])
}

// Run is part of the Command interface.
func (c *SuperCommand) Run(ctx *Context) error {
	if c.subcmd == nil {
		return errors.New("no command selected")
	}
	logger.Infof("running %s [%s %s]", c.Info().Name, runtime.Compiler, runtime.Version())
	return c.subcmd.Run(ctx)
}
