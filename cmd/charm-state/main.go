// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// charm-state inspects the state database a charm keeps in its charm
// directory. It never changes the database.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/ops/charm"
	"github.com/juju/ops/cmd"
	"github.com/juju/ops/storage"
)

const stateDoc = `
charm-state reads the unit state database written by the charm framework
and prints the notices still waiting to be delivered and the snapshots of
persisted objects. The database is only read. If a running hook holds
its lock, the tool gives up after a few seconds.
`

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(newSuperCommand(), ctx, os.Args[1:]))
}

func newSuperCommand() *cmd.SuperCommand {
	db := &dbFlag{path: charm.StateFileName}
	sc := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "charm-state",
		Purpose: "inspect a charm's unit state database",
		Doc:     stateDoc,
		SetCommonFlags: func(f *gnuflag.FlagSet) {
			f.StringVar(&db.path, "db", db.path, "path to the state database")
		},
	})
	sc.Register(&noticesCommand{db: db})
	sc.Register(&snapshotsCommand{db: db})
	sc.Register(&showCommand{db: db})
	return sc
}

// dbFlag holds the --db value shared by every subcommand.
type dbFlag struct {
	path string
}

// lockTimeout is how long the tool waits for a running hook to release
// the database.
const lockTimeout = 5 * time.Second

// open opens the database for reading. A missing file is an error
// rather than being created.
func (d *dbFlag) open(ctx *cmd.Context) (*storage.SQLiteStorage, error) {
	st, err := storage.OpenSQLiteStorageReadOnly(ctx.AbsPath(d.path), lockTimeout)
	return st, errors.Trace(err)
}

// noticeInfo is the printed form of a storage.Notice.
type noticeInfo struct {
	Sequence int64  `yaml:"sequence" json:"sequence"`
	Event    string `yaml:"event" json:"event"`
	Observer string `yaml:"observer" json:"observer"`
	Method   string `yaml:"method" json:"method"`
}

type noticesCommand struct {
	db        *dbFlag
	out       cmd.Output
	eventPath string
}

func (c *noticesCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "notices",
		Args:    "[<event-path>]",
		Purpose: "list pending notices in delivery order",
		Doc: `
Lists the notices that will be replayed on the next dispatch. Given an
event path, only the notices for that event are listed.
`,
	}
}

func (c *noticesCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

func (c *noticesCommand) Init(args []string) error {
	if len(args) > 0 {
		c.eventPath, args = args[0], args[1:]
	}
	return cmd.CheckEmpty(args)
}

func (c *noticesCommand) Run(ctx *cmd.Context) error {
	st, err := c.db.open(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer st.Close()

	notices := []noticeInfo{}
	for n, err := range st.Notices(c.eventPath) {
		if err != nil {
			return errors.Trace(err)
		}
		notices = append(notices, noticeInfo{
			Sequence: n.Sequence,
			Event:    n.EventPath,
			Observer: n.ObserverPath,
			Method:   n.MethodName,
		})
	}
	return c.out.Write(ctx, notices)
}

type snapshotsCommand struct {
	db  *dbFlag
	out cmd.Output
}

func (c *snapshotsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "snapshots",
		Purpose: "list the handle paths of stored snapshots",
	}
}

func (c *snapshotsCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

func (c *snapshotsCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

func (c *snapshotsCommand) Run(ctx *cmd.Context) error {
	st, err := c.db.open(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer st.Close()

	paths, err := st.SnapshotPaths()
	if err != nil {
		return errors.Trace(err)
	}
	if paths == nil {
		paths = []string{}
	}
	return c.out.Write(ctx, paths)
}

type showCommand struct {
	db         *dbFlag
	out        cmd.Output
	handlePath string
}

func (c *showCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "show",
		Args:    "<handle-path>",
		Purpose: "print a decoded snapshot",
	}
}

func (c *showCommand) SetFlags(f *gnuflag.FlagSet) {
	c.out.AddFlags(f, "pretty", cmd.DefaultFormatters)
}

func (c *showCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no handle path specified")
	}
	c.handlePath, args = args[0], args[1:]
	return cmd.CheckEmpty(args)
}

func (c *showCommand) Run(ctx *cmd.Context) error {
	st, err := c.db.open(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer st.Close()

	raw, err := st.LoadSnapshot(c.handlePath)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := storage.Decode(raw)
	if err != nil {
		return errors.Annotatef(err, "snapshot %q", c.handlePath)
	}
	return c.out.Write(ctx, data)
}
