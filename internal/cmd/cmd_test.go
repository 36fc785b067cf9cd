// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd_test

import (
	"bytes"
	stdtesting "testing"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/tc"

	"github.com/cloudship/cloudship/internal/cmd"
)

type cmdSuite struct {
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	ctx    *cmd.Context
}

func TestCmdSuite(t *stdtesting.T) { tc.Run(t, &cmdSuite{}) }

func (s *cmdSuite) SetUpTest(c *tc.C) {
	s.stdout = &bytes.Buffer{}
	s.stderr = &bytes.Buffer{}
	s.ctx = &cmd.Context{
		Context: c.Context(),
		Dir:     c.MkDir(),
		Stdin:   &bytes.Buffer{},
		Stdout:  s.stdout,
		Stderr:  s.stderr,
	}
}

// testCommand records how it was invoked.
type testCommand struct {
	cmd.CommandBase

	name    string
	value   string
	args    []string
	ran     bool
	runErr  error
	minArgs int
}

func (t *testCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    t.name,
		Args:    "[args]",
		Purpose: "test command",
		Doc:     "documentation for " + t.name,
	}
}

func (t *testCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&t.value, "value", "", "An option for testing")
}

func (t *testCommand) Init(args []string) error {
	if len(args) < t.minArgs {
		return errors.Errorf("expected at least %d args", t.minArgs)
	}
	t.args = args
	return nil
}

func (t *testCommand) Run(ctx *cmd.Context) error {
	t.ran = true
	return t.runErr
}

func (s *cmdSuite) TestMainRunsCommand(c *tc.C) {
	command := &testCommand{name: "frob"}
	code := cmd.Main(command, s.ctx, []string{"--value", "blah", "extra"})
	c.Assert(code, tc.Equals, 0)
	c.Assert(command.ran, tc.IsTrue)
	c.Assert(command.value, tc.Equals, "blah")
	c.Assert(command.args, tc.DeepEquals, []string{"extra"})
}

func (s *cmdSuite) TestMainUnknownFlag(c *tc.C) {
	command := &testCommand{name: "frob"}
	code := cmd.Main(command, s.ctx, []string{"--whoops"})
	c.Assert(code, tc.Equals, 2)
	c.Assert(command.ran, tc.IsFalse)
	c.Assert(s.stderr.String(), tc.Contains, "ERROR")
}

func (s *cmdSuite) TestMainInitError(c *tc.C) {
	command := &testCommand{name: "frob", minArgs: 1}
	code := cmd.Main(command, s.ctx, nil)
	c.Assert(code, tc.Equals, 2)
	c.Assert(s.stderr.String(), tc.Contains, "expected at least 1 args")
}

func (s *cmdSuite) TestMainRunError(c *tc.C) {
	command := &testCommand{name: "frob", runErr: errors.New("splat")}
	code := cmd.Main(command, s.ctx, nil)
	c.Assert(code, tc.Equals, 1)
	c.Assert(s.stderr.String(), tc.Contains, "ERROR splat")
}

func (s *cmdSuite) TestMainSilentError(c *tc.C) {
	command := &testCommand{name: "frob", runErr: cmd.ErrSilent}
	code := cmd.Main(command, s.ctx, nil)
	c.Assert(code, tc.Equals, 1)
	c.Assert(s.stderr.String(), tc.Equals, "")
}

func (s *cmdSuite) TestMainHelp(c *tc.C) {
	command := &testCommand{name: "frob"}
	code := cmd.Main(command, s.ctx, []string{"--help"})
	c.Assert(code, tc.Equals, 0)
	c.Assert(command.ran, tc.IsFalse)
	c.Assert(s.stdout.String(), tc.Contains, "Usage: frob [options] [args]")
	c.Assert(s.stdout.String(), tc.Contains, "documentation for frob")
	c.Assert(s.stdout.String(), tc.Contains, "--value")
}

func (s *cmdSuite) TestCheckEmpty(c *tc.C) {
	c.Assert(cmd.CheckEmpty(nil), tc.ErrorIsNil)
	c.Assert(cmd.CheckEmpty([]string{"boo"}), tc.ErrorMatches, `unrecognized args: \["boo"\]`)
}

func (s *cmdSuite) TestSuperCommandDispatch(c *tc.C) {
	sub := &testCommand{name: "frob"}
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{Name: "tool", Version: "1.2.3"})
	super.Register(sub)

	code := cmd.Main(super, s.ctx, []string{"frob", "--value", "blah"})
	c.Assert(code, tc.Equals, 0)
	c.Assert(sub.ran, tc.IsTrue)
	c.Assert(sub.value, tc.Equals, "blah")
}

func (s *cmdSuite) TestSuperCommandDuplicateRegisterPanics(c *tc.C) {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{Name: "tool"})
	super.Register(&testCommand{name: "frob"})
	c.Assert(func() { super.Register(&testCommand{name: "frob"}) },
		tc.PanicMatches, `command "frob" is already registered`)
}

func (s *cmdSuite) TestSuperCommandNoArgs(c *tc.C) {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{Name: "tool"})
	code := cmd.Main(super, s.ctx, nil)
	c.Assert(code, tc.Equals, 2)
	c.Assert(s.stderr.String(), tc.Contains, "no command specified")
}

func (s *cmdSuite) TestSuperCommandSubcommandFailureIsSilent(c *tc.C) {
	sub := &testCommand{name: "frob", runErr: errors.New("splat")}
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{Name: "tool"})
	super.Register(sub)

	code := cmd.Main(super, s.ctx, []string{"frob"})
	c.Assert(code, tc.Equals, 1)
	// The subcommand's Main already printed the error; the outer Main
	// must not print a second one.
	c.Assert(s.stderr.String(), tc.Equals, "ERROR splat\n")
}
