// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	internallogger "github.com/cloudship/cloudship/internal/logger"
)

var logger = internallogger.GetLogger("cloudship.cmd")

// ErrSilent can be returned from Run to signal that Main should exit
// with a non-zero exit code without printing an error message.
var ErrSilent = errors.New("cmd: error out silently")

// Info holds everything necessary to describe a command's intent and usage.
type Info struct {
	// Name is the command's name.
	Name string

	// Args describes the format of a valid call to the command.
	Args string

	// Purpose is a short explanation of the command.
	Purpose string

	// Doc is the long documentation shown with help.
	Doc string

	// Examples is a collection of invocation examples.
	Examples string
}

// Help renders the usage text for the command.
func (i *Info) Help(f *gnuflag.FlagSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s", i.Name)
	hasFlags := false
	f.VisitAll(func(*gnuflag.Flag) { hasFlags = true })
	if hasFlags {
		b.WriteString(" [options]")
	}
	if i.Args != "" {
		fmt.Fprintf(&b, " %s", i.Args)
	}
	b.WriteString("\n")
	if i.Purpose != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", i.Purpose)
	}
	if hasFlags {
		b.WriteString("\nOptions:\n")
		f.SetOutput(&b)
		f.PrintDefaults()
		f.SetOutput(io.Discard)
	}
	if i.Doc != "" {
		fmt.Fprintf(&b, "\nDetails:\n%s\n", strings.TrimSpace(i.Doc))
	}
	if i.Examples != "" {
		fmt.Fprintf(&b, "\nExamples:\n%s", i.Examples)
	}
	return b.String()
}

// Command is implemented by types that interpret command-line arguments.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds command specific flags to the flag set.
	SetFlags(f *gnuflag.FlagSet)

	// Init initializes the command before running, consuming
	// positional arguments left over after flag parsing.
	Init(args []string) error

	// Run will execute the command as directed by Init.
	Run(ctx *Context) error

	// AllowInterspersedFlags returns whether flags may appear after
	// positional arguments.
	AllowInterspersedFlags() bool
}

// CommandBase provides the default implementation for SetFlags and Init.
type CommandBase struct{}

// SetFlags does nothing in the simplest case.
func (c *CommandBase) SetFlags(f *gnuflag.FlagSet) {}

// Init in the simplest case makes sure there are no args.
func (c *CommandBase) Init(args []string) error {
	return CheckEmpty(args)
}

// AllowInterspersedFlags returns true by default.
func (c *CommandBase) AllowInterspersedFlags() bool {
	return true
}

// CheckEmpty is a utility function that returns an error if args is not empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %q", args)
	}
	return nil
}

// Context represents the run context of a Command. Commands read input
// and write output through the context rather than touching os.Std*
// directly, so tests can substitute buffers.
type Context struct {
	context.Context

	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Infof writes a formatted message to the context's Stderr. Operator
// facing progress goes to stderr so stdout stays machine-consumable.
func (ctx *Context) Infof(format string, args ...interface{}) {
	fmt.Fprintf(ctx.Stderr, format+"\n", args...)
}

// Warningf writes a formatted warning to the context's Stderr.
func (ctx *Context) Warningf(format string, args ...interface{}) {
	fmt.Fprintf(ctx.Stderr, "WARNING "+format+"\n", args...)
}

// DefaultContext returns a Context suitable for use in non-hosted situations.
func DefaultContext(ctx context.Context) (*Context, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Context{
		Context: ctx,
		Dir:     dir,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// Main runs the given Command in the supplied Context with the given
// arguments, which should not include the command name. It returns a
// process exit code; 0 for success, 2 for usage errors, 1 for any
// other failure.
func Main(c Command, ctx *Context, args []string) int {
	f := gnuflag.NewFlagSetWithFlagKnownAs(c.Info().Name, gnuflag.ContinueOnError, "option")
	f.SetOutput(io.Discard)
	f.Usage = func() {}
	help := false
	f.BoolVar(&help, "h", false, "Show help")
	f.BoolVar(&help, "help", false, "")
	c.SetFlags(f)
	if err := f.Parse(c.AllowInterspersedFlags(), args); err != nil {
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if help {
		fmt.Fprint(ctx.Stdout, c.Info().Help(f))
		return 0
	}
	if err := c.Init(f.Args()); err != nil {
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		if errors.Cause(err) != ErrSilent {
			fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
			logger.Debugf("error stack: \n%v", errors.ErrorStack(err))
		}
		return 1
	}
	return 0
}
