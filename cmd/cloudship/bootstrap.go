// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/cloudship/cloudship/internal/azure"
	"github.com/cloudship/cloudship/internal/azure/azureauth"
	"github.com/cloudship/cloudship/internal/bootstrap"
	"github.com/cloudship/cloudship/internal/cmd"
	"github.com/cloudship/cloudship/internal/config"
	"github.com/cloudship/cloudship/internal/github"
	"github.com/cloudship/cloudship/internal/reconcile"
)

const defaultConfigPath = "cloudship.yaml"

const bootstrapDoc = `
Reads the desired state from the config file and reconciles the Azure
subscription and the GitHub repository against it, in dependency order:
resource providers, resource group, AD application, service principal,
federated credentials, role assignment, repository secrets, deployment
environments.

Azure credentials are taken from the environment the way the Azure SDK
resolves them (environment variables, workload identity, managed
identity, then the local az login). The GitHub token comes from the
config file or ` + config.GitHubTokenEnvKey + `.
`

const bootstrapExamples = `
    cloudship bootstrap
    cloudship bootstrap --config deploy/cloudship.yaml
`

// pipelineRunner is the part of bootstrap.Pipeline the command needs.
type pipelineRunner interface {
	Run(ctx context.Context) ([]reconcile.Result, error)
}

type bootstrapCommand struct {
	cmd.CommandBase

	configPath string

	newPipeline func(ctx context.Context, cfg *config.Config) (pipelineRunner, error)
}

func newBootstrapCommand() cmd.Command {
	return &bootstrapCommand{newPipeline: newPipeline}
}

// Info implements cmd.Command.
func (c *bootstrapCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "bootstrap",
		Purpose:  "Reconcile Azure and GitHub to the configured desired state",
		Doc:      bootstrapDoc,
		Examples: bootstrapExamples,
	}
}

// SetFlags implements cmd.Command.
func (c *bootstrapCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfigPath, "Path to the desired-state config file")
}

// Run implements cmd.Command.
func (c *bootstrapCommand) Run(ctx *cmd.Context) error {
	cfg, err := config.Read(c.configPath)
	if err != nil {
		return errors.Trace(err)
	}
	pipeline, err := c.newPipeline(ctx, cfg)
	if err != nil {
		return errors.Trace(err)
	}
	results, err := pipeline.Run(ctx)
	for _, result := range results {
		ctx.Infof("%-45s %s", result.Name, result.Outcome)
	}
	if err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("bootstrap complete")
	return nil
}

// newPipeline wires the real Azure and GitHub clients into a pipeline.
func newPipeline(ctx context.Context, cfg *config.Config) (pipelineRunner, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errors.Annotate(err, "resolving Azure credentials")
	}
	provisioner, err := azure.NewProvisioner(azure.ProvisionerParams{
		SubscriptionID: cfg.SubscriptionID,
		Credential:     credential,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	adaptor, err := azureauth.NewRequestAdaptor(credential)
	if err != nil {
		return nil, errors.Trace(err)
	}
	repository, err := github.NewClient(ctx, github.ClientParams{
		Owner:      cfg.GitHub.Owner,
		Repository: cfg.GitHub.Repository,
		Token:      cfg.GitHub.Token,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	pipeline, err := bootstrap.NewPipeline(bootstrap.PipelineParams{
		Config:      cfg,
		Provisioner: provisioner,
		Directory:   &azureauth.ServicePrincipalCreator{RequestAdaptor: adaptor},
		Repository:  repository,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return pipeline, nil
}
