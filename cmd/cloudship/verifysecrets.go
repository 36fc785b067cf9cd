// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/cloudship/cloudship/internal/bootstrap"
	"github.com/cloudship/cloudship/internal/cmd"
	"github.com/cloudship/cloudship/internal/config"
	"github.com/cloudship/cloudship/internal/github"
)

const verifySecretsDoc = `
Checks that every repository secret the deployment workflow consumes
already exists: the Azure identity secrets, and the database connection
secrets when a database prefix is configured. Missing secrets are
reported together. Nothing is created or modified.
`

// secretVerifier is the part of github.Client this command needs.
type secretVerifier interface {
	VerifyRequiredSecrets(ctx context.Context, required []string) error
}

type verifySecretsCommand struct {
	cmd.CommandBase

	configPath string

	newVerifier func(ctx context.Context, cfg *config.Config) (secretVerifier, error)
}

func newVerifySecretsCommand() cmd.Command {
	return &verifySecretsCommand{newVerifier: newSecretVerifier}
}

// Info implements cmd.Command.
func (c *verifySecretsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "verify-secrets",
		Purpose: "Check that all required repository secrets exist",
		Doc:     verifySecretsDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *verifySecretsCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfigPath, "Path to the desired-state config file")
}

// Run implements cmd.Command.
func (c *verifySecretsCommand) Run(ctx *cmd.Context) error {
	cfg, err := config.Read(c.configPath)
	if err != nil {
		return errors.Trace(err)
	}
	verifier, err := c.newVerifier(ctx, cfg)
	if err != nil {
		return errors.Trace(err)
	}
	required := []string{
		bootstrap.SecretClientID,
		bootstrap.SecretTenantID,
		bootstrap.SecretSubscriptionID,
	}
	if cfg.DatabaseSecrets.Mode != config.SecretsModeSkip {
		required = append(required, github.RequiredDatabaseSecretNames(cfg.DatabaseSecrets.Prefix)...)
	}
	if err := verifier.VerifyRequiredSecrets(ctx, required); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("all %d required secrets present", len(required))
	return nil
}

func newSecretVerifier(ctx context.Context, cfg *config.Config) (secretVerifier, error) {
	client, err := github.NewClient(ctx, github.ClientParams{
		Owner:      cfg.GitHub.Owner,
		Repository: cfg.GitHub.Repository,
		Token:      cfg.GitHub.Token,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return client, nil
}
