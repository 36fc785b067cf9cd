// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

// SuperCommandParams provides the arguments for NewSuperCommand.
type SuperCommandParams struct {
	Name    string
	Doc     string
	Purpose string
	Version string
}

// NewSuperCommand creates and initializes a new SuperCommand.
func NewSuperCommand(params SuperCommandParams) *SuperCommand {
	return &SuperCommand{
		name:    params.Name,
		doc:     params.Doc,
		purpose: params.Purpose,
		version: params.Version,
		subcmds: make(map[string]Command),
	}
}

// SuperCommand is a Command that selects a subcommand and ensures its
// flags are parsed before running it.
type SuperCommand struct {
	CommandBase

	name        string
	doc         string
	purpose     string
	version     string
	subcmds     map[string]Command
	showVersion bool

	action Command
	args   []string
}

// Register makes a subcommand available for use on the command line.
// Registering a duplicate name panics; that is a programming error.
func (c *SuperCommand) Register(subcmd Command) {
	name := subcmd.Info().Name
	if _, found := c.subcmds[name]; found {
		panic(fmt.Sprintf("command %q is already registered", name))
	}
	c.subcmds[name] = subcmd
}

// Info implements Command.Info.
func (c *SuperCommand) Info() *Info {
	names := make([]string, 0, len(c.subcmds))
	for name := range c.subcmds {
		names = append(names, name)
	}
	sort.Strings(names)
	var doc strings.Builder
	if c.doc != "" {
		doc.WriteString(strings.TrimSpace(c.doc))
		doc.WriteString("\n\n")
	}
	doc.WriteString("Commands:\n")
	for _, name := range names {
		fmt.Fprintf(&doc, "    %-16s %s\n", name, c.subcmds[name].Info().Purpose)
	}
	return &Info{
		Name:    c.name,
		Args:    "<command> ...",
		Purpose: c.purpose,
		Doc:     doc.String(),
	}
}

// AllowInterspersedFlags stops flag parsing at the first positional
// argument so subcommand flags reach the subcommand untouched.
func (c *SuperCommand) AllowInterspersedFlags() bool {
	return false
}

// SetFlags implements Command.SetFlags.
func (c *SuperCommand) SetFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&c.showVersion, "version", false, "Show the version of "+c.name)
}

// Init implements Command.Init, selecting the subcommand to run and
// leaving the remaining arguments for the subcommand's own flag parse.
func (c *SuperCommand) Init(args []string) error {
	if c.showVersion {
		return nil
	}
	if len(args) == 0 {
		return errors.Errorf("no command specified")
	}
	name := args[0]
	subcmd, found := c.subcmds[name]
	if !found {
		return errors.Errorf("unrecognized command: %s %s", c.name, name)
	}
	c.action = subcmd
	c.args = args[1:]
	return nil
}

// Run implements Command.Run, dispatching to the chosen subcommand.
func (c *SuperCommand) Run(ctx *Context) error {
	if c.showVersion {
		fmt.Fprintf(ctx.Stdout, "%s\n", c.version)
		return nil
	}
	logger.Infof("running %s %s %s", c.name, c.version, c.action.Info().Name)
	if code := Main(c.action, ctx, c.args); code != 0 {
		return ErrSilent
	}
	return nil
}
