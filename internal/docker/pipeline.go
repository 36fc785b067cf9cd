// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package docker

import (
	"context"
	"io"
	"os/exec"

	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"
)

// CommandRunner abstracts execution of the docker CLI so tests can
// record invocations instead of spawning processes.
type CommandRunner interface {
	// LookPath resolves a binary on PATH.
	LookPath(name string) (string, error)

	// Run executes the named binary, streaming its output, and
	// returns the process error if the exit status is non-zero.
	Run(ctx context.Context, name string, args ...string) error
}

// NewExecRunner returns a CommandRunner backed by os/exec with the
// given standard streams. Stdin is only consumed by interactive login.
func NewExecRunner(stdin io.Reader, stdout, stderr io.Writer) CommandRunner {
	return &execRunner{stdin: stdin, stdout: stdout, stderr: stderr}
}

type execRunner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (r *execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	logger.Debugf("running %s %s", name, shellquote.Join(args...))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	return cmd.Run()
}

// ImageSpec is the desired build/push target.
type ImageSpec struct {
	Name       string
	Tag        string
	Platform   string
	Context    string
	Dockerfile string
}

// Reference returns the image reference passed to build and push.
func (i ImageSpec) Reference() string {
	return i.Name + ":" + i.Tag
}

// PipelineParams configures a Pipeline.
type PipelineParams struct {
	Runner CommandRunner

	// ConfigPath locates the docker credential store; empty means the
	// conventional location.
	ConfigPath string

	// Interactive allows a docker login prompt when no credential is
	// found. Without a terminal a missing login is fatal instead.
	Interactive bool
}

// Pipeline runs the release sequence: login check, build, push.
type Pipeline struct {
	runner      CommandRunner
	configPath  string
	interactive bool
}

// NewPipeline returns a release pipeline using the given runner.
func NewPipeline(params PipelineParams) *Pipeline {
	configPath := params.ConfigPath
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	return &Pipeline{
		runner:      params.Runner,
		configPath:  configPath,
		interactive: params.Interactive,
	}
}

// Release builds and pushes the image: exactly one build call and one
// push call, no retries. Either failing is fatal with the underlying
// tool's exit status.
func (p *Pipeline) Release(ctx context.Context, image ImageSpec) error {
	if _, err := p.runner.LookPath("docker"); err != nil {
		return errors.Annotate(err, "docker is required")
	}
	if err := p.ensureLoggedIn(ctx, RegistryHost(image.Name)); err != nil {
		return errors.Trace(err)
	}
	buildArgs := []string{"build", "--platform", image.Platform, "--file", image.Dockerfile, "--tag", image.Reference(), image.Context}
	if err := p.runner.Run(ctx, "docker", buildArgs...); err != nil {
		return errors.Annotatef(err, "building %s", image.Reference())
	}
	if err := p.runner.Run(ctx, "docker", "push", image.Reference()); err != nil {
		return errors.Annotatef(err, "pushing %s", image.Reference())
	}
	return nil
}

func (p *Pipeline) ensureLoggedIn(ctx context.Context, registry string) error {
	if HasCredentials(p.configPath, registry) {
		logger.Debugf("existing credential found for %q", registry)
		return nil
	}
	if !p.interactive {
		return errors.Errorf("not logged in to %q and no terminal available for docker login", registry)
	}
	if err := p.runner.Run(ctx, "docker", "login", registry); err != nil {
		return errors.Annotatef(err, "logging in to %q", registry)
	}
	return nil
}
