// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/mattn/go-isatty"

	"github.com/cloudship/cloudship/internal/cmd"
	"github.com/cloudship/cloudship/internal/config"
	"github.com/cloudship/cloudship/internal/docker"
)

const releaseDoc = `
Builds the application container image and pushes it to its registry.
The image name, tag, platform and build context come from the config
file; --tag overrides the configured tag for one-off releases.

If the registry has no stored credential, a docker login is run first
when attached to a terminal. Headless runs with no credential fail
instead of hanging on a prompt.
`

const releaseExamples = `
    cloudship release
    cloudship release --tag v1.4.2
`

type releaseCommand struct {
	cmd.CommandBase

	configPath string
	tag        string

	newRunner    func(ctx *cmd.Context) docker.CommandRunner
	interactive  func() bool
	dockerConfig string
}

func newReleaseCommand() cmd.Command {
	return &releaseCommand{
		newRunner: func(ctx *cmd.Context) docker.CommandRunner {
			return docker.NewExecRunner(ctx.Stdin, ctx.Stdout, ctx.Stderr)
		},
		interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd())
		},
	}
}

// Info implements cmd.Command.
func (c *releaseCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "release",
		Purpose:  "Build and push the application container image",
		Doc:      releaseDoc,
		Examples: releaseExamples,
	}
}

// SetFlags implements cmd.Command.
func (c *releaseCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfigPath, "Path to the desired-state config file")
	f.StringVar(&c.tag, "tag", "", "Override the configured image tag")
}

// Run implements cmd.Command.
func (c *releaseCommand) Run(ctx *cmd.Context) error {
	cfg, err := config.Read(c.configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if cfg.Image.Name == "" {
		return errors.NotValidf("release without an image section in %s", c.configPath)
	}
	image := docker.ImageSpec{
		Name:       cfg.Image.Name,
		Tag:        cfg.Image.Tag,
		Platform:   cfg.Image.Platform,
		Context:    cfg.Image.Context,
		Dockerfile: cfg.Image.Dockerfile,
	}
	if c.tag != "" {
		image.Tag = c.tag
	}
	pipeline := docker.NewPipeline(docker.PipelineParams{
		Runner:      c.newRunner(ctx),
		ConfigPath:  c.dockerConfig,
		Interactive: c.interactive(),
	})
	if err := pipeline.Release(ctx, image); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("released %s", image.Reference())
	return nil
}
