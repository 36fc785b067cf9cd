// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/juju/tc"

	"github.com/cloudship/cloudship/internal/cmd"
	"github.com/cloudship/cloudship/internal/docker"
)

type releaseRunner struct {
	calls []string
}

func (r *releaseRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func (r *releaseRunner) Run(ctx context.Context, name string, args ...string) error {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	return nil
}

func (s *commandSuite) releaseCommand(c *tc.C, runner docker.CommandRunner) *releaseCommand {
	// Point the credential lookup at an empty store so the login path
	// is deterministic regardless of the host's docker config.
	return &releaseCommand{
		newRunner:    func(*cmd.Context) docker.CommandRunner { return runner },
		interactive:  func() bool { return true },
		dockerConfig: filepath.Join(c.MkDir(), "config.json"),
	}
}

func (s *commandSuite) TestReleaseBuildsAndPushes(c *tc.C) {
	runner := &releaseRunner{}
	code := cmd.Main(s.releaseCommand(c, runner), s.ctx, []string{
		"--config", s.writeConfig(c, testConfig),
	})
	c.Assert(code, tc.Equals, 0)
	c.Assert(runner.calls, tc.DeepEquals, []string{
		"docker login ghcr.io",
		"docker build --platform linux/amd64 --file Dockerfile --tag ghcr.io/acme/myapp:latest .",
		"docker push ghcr.io/acme/myapp:latest",
	})
	c.Assert(s.stderr.String(), tc.Contains, "released ghcr.io/acme/myapp:latest")
}

func (s *commandSuite) TestReleaseTagOverride(c *tc.C) {
	runner := &releaseRunner{}
	code := cmd.Main(s.releaseCommand(c, runner), s.ctx, []string{
		"--config", s.writeConfig(c, testConfig),
		"--tag", "v1.4.2",
	})
	c.Assert(code, tc.Equals, 0)
	c.Assert(runner.calls[len(runner.calls)-1], tc.Equals, "docker push ghcr.io/acme/myapp:v1.4.2")
}

func (s *commandSuite) TestReleaseWithoutImageSection(c *tc.C) {
	noImage := strings.Replace(testConfig, "image:\n  name: ghcr.io/acme/myapp\n", "", 1)
	runner := &releaseRunner{}
	code := cmd.Main(s.releaseCommand(c, runner), s.ctx, []string{
		"--config", s.writeConfig(c, noImage),
	})
	c.Assert(code, tc.Equals, 1)
	c.Assert(runner.calls, tc.HasLen, 0)
	c.Assert(s.stderr.String(), tc.Contains, "without an image section")
}
