// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package bootstrap assembles the provisioning steps into the one
// fixed-order pipeline a bootstrap run executes. Ordering is a hard
// dependency chain: the resource group must exist before a role can be
// scoped to it, the application before its service principal and
// federated credentials, and the principal before the role assignment
// and the identity secrets.
package bootstrap

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"github.com/cloudship/cloudship/internal/azure"
	"github.com/cloudship/cloudship/internal/azure/azureauth"
	"github.com/cloudship/cloudship/internal/config"
	"github.com/cloudship/cloudship/internal/github"
	internallogger "github.com/cloudship/cloudship/internal/logger"
	"github.com/cloudship/cloudship/internal/reconcile"
)

var logger = internallogger.GetLogger("cloudship.bootstrap")

const (
	// ContributorRole is the built-in role granted to the deployer
	// principal on the resource group.
	ContributorRole = "Contributor"

	// DeployBranch is the branch whose workflows may assume the
	// deployer identity outside any environment.
	DeployBranch = "main"

	// Identity secret names consumed by the azure/login workflow step.
	SecretClientID       = "AZURE_CLIENT_ID"
	SecretTenantID       = "AZURE_TENANT_ID"
	SecretSubscriptionID = "AZURE_SUBSCRIPTION_ID"
)

// CloudProvisioner reconciles subscription-level Azure resources.
type CloudProvisioner interface {
	EnsureProviderRegistered(ctx context.Context, namespace string) (reconcile.Outcome, error)
	EnsureResourceGroup(ctx context.Context, name, location string) (reconcile.Outcome, error)
	TenantID(ctx context.Context) (string, error)
	EnsureRoleAssignment(ctx context.Context, params azure.RoleAssignmentParams) (reconcile.Outcome, error)
}

// DirectoryClient reconciles the Azure AD application, its service
// principal and its federated credentials.
type DirectoryClient interface {
	EnsureApplication(ctx context.Context, displayName string) (azureauth.Application, reconcile.Outcome, error)
	EnsureServicePrincipal(ctx context.Context, appID string) (string, reconcile.Outcome, error)
	EnsureFederatedCredential(ctx context.Context, appObjectID string, desired azureauth.FederatedCredential) (reconcile.Outcome, error)
}

// RepositoryClient manages the GitHub repository's secrets and
// deployment environments.
type RepositoryClient interface {
	SetSecret(ctx context.Context, name, value string) error
	VerifyRequiredSecrets(ctx context.Context, required []string) error
	EnsureEnvironment(ctx context.Context, name string, protectedBranches bool) (reconcile.Outcome, error)
}

// PipelineParams carries everything a pipeline run needs.
type PipelineParams struct {
	Config      *config.Config
	Provisioner CloudProvisioner
	Directory   DirectoryClient
	Repository  RepositoryClient
}

// Validate implements the Params contract. Config validation is
// repeated here so a pipeline assembled from a hand-built Config still
// fails before any external call rather than partway through a run.
func (p PipelineParams) Validate() error {
	if p.Config == nil {
		return errors.NotValidf("nil Config")
	}
	if err := p.Config.Validate(); err != nil {
		return errors.Trace(err)
	}
	if p.Provisioner == nil {
		return errors.NotValidf("nil Provisioner")
	}
	if p.Directory == nil {
		return errors.NotValidf("nil Directory")
	}
	if p.Repository == nil {
		return errors.NotValidf("nil Repository")
	}
	return nil
}

// Pipeline runs the full bootstrap against one subscription and one
// repository. It is safe to run repeatedly: every step reconciles.
type Pipeline struct {
	cfg         *config.Config
	provisioner CloudProvisioner
	directory   DirectoryClient
	repository  RepositoryClient

	// Outputs of earlier steps consumed by later ones.
	app        azureauth.Application
	spObjectID string
}

// NewPipeline constructs a Pipeline from its params.
func NewPipeline(params PipelineParams) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Pipeline{
		cfg:         params.Config,
		provisioner: params.Provisioner,
		directory:   params.Directory,
		repository:  params.Repository,
	}, nil
}

// Run executes the pipeline. The first Azure or secret failure halts
// it; environment failures are reported as warnings and do not, since
// a missing environment only degrades deployment gating, not the
// deploy identity itself.
func (p *Pipeline) Run(ctx context.Context) ([]reconcile.Result, error) {
	results, err := reconcile.Run(ctx, p.steps())
	if err != nil {
		return results, errors.Trace(err)
	}
	for _, env := range p.cfg.Environments {
		outcome, err := p.repository.EnsureEnvironment(ctx, env.Name, env.ProtectedBranches)
		if err != nil {
			logger.Warningf("environment %q not configured: %v", env.Name, err)
			continue
		}
		results = append(results, reconcile.Result{
			Name:    "environment " + env.Name,
			Outcome: outcome,
		})
	}
	return results, nil
}

func (p *Pipeline) steps() []reconcile.Step {
	var steps []reconcile.Step
	for _, namespace := range p.cfg.ResourceProviders {
		namespace := namespace
		steps = append(steps, reconcile.Step{
			Name: "resource provider " + namespace,
			Run: func(ctx context.Context) (reconcile.Outcome, error) {
				return p.provisioner.EnsureProviderRegistered(ctx, namespace)
			},
		})
	}
	steps = append(steps,
		reconcile.Step{
			Name: "resource group " + p.cfg.ResourceGroup,
			Run: func(ctx context.Context) (reconcile.Outcome, error) {
				return p.provisioner.EnsureResourceGroup(ctx, p.cfg.ResourceGroup, p.cfg.Location)
			},
		},
		reconcile.Step{
			Name: "application " + p.cfg.ApplicationName,
			Run: func(ctx context.Context) (reconcile.Outcome, error) {
				app, outcome, err := p.directory.EnsureApplication(ctx, p.cfg.ApplicationName)
				if err != nil {
					return outcome, errors.Trace(err)
				}
				p.app = app
				return outcome, nil
			},
		},
		reconcile.Step{
			Name: "service principal",
			Run: func(ctx context.Context) (reconcile.Outcome, error) {
				objectID, outcome, err := p.directory.EnsureServicePrincipal(ctx, p.app.AppID)
				if err != nil {
					return outcome, errors.Trace(err)
				}
				p.spObjectID = objectID
				return outcome, nil
			},
		},
	)
	steps = append(steps, p.credentialSteps()...)
	steps = append(steps, reconcile.Step{
		Name: "role assignment " + ContributorRole,
		Run: func(ctx context.Context) (reconcile.Outcome, error) {
			return p.provisioner.EnsureRoleAssignment(ctx, azure.RoleAssignmentParams{
				PrincipalObjectID: p.spObjectID,
				RoleName:          ContributorRole,
				ResourceGroup:     p.cfg.ResourceGroup,
			})
		},
	})
	steps = append(steps, p.secretSteps()...)
	return steps
}

// credentialSteps yields one federated credential per deployment
// environment plus one for the deploy branch, the full set of subjects
// the workflows authenticate under.
func (p *Pipeline) credentialSteps() []reconcile.Step {
	slug := p.cfg.GitHub.Slug()
	desired := make([]azureauth.FederatedCredential, 0, len(p.cfg.Environments)+1)
	for _, env := range p.cfg.Environments {
		desired = append(desired, azureauth.GitHubCredential(
			"github-env-"+env.Name,
			azureauth.GitHubEnvironmentSubject(slug, env.Name),
		))
	}
	desired = append(desired, azureauth.GitHubCredential(
		"github-branch-"+DeployBranch,
		azureauth.GitHubBranchSubject(slug, DeployBranch),
	))

	steps := make([]reconcile.Step, len(desired))
	for i, cred := range desired {
		cred := cred
		steps[i] = reconcile.Step{
			Name: "federated credential " + cred.Name,
			Run: func(ctx context.Context) (reconcile.Outcome, error) {
				return p.directory.EnsureFederatedCredential(ctx, p.app.ObjectID, cred)
			},
		}
	}
	return steps
}

// secretSteps yields the identity secrets and, depending on the
// configured mode, the database connection secrets. Secret writes
// always report Applied: the API cannot read values back, so there is
// no way to observe that the stored value already matches.
func (p *Pipeline) secretSteps() []reconcile.Step {
	steps := []reconcile.Step{
		p.secretStep(SecretClientID, func(context.Context) (string, error) {
			return p.app.AppID, nil
		}),
		p.secretStep(SecretTenantID, p.tenantID),
		p.secretStep(SecretSubscriptionID, func(context.Context) (string, error) {
			return p.cfg.SubscriptionID, nil
		}),
	}

	db := p.cfg.DatabaseSecrets
	switch db.Mode {
	case config.SecretsModeSetNew:
		// Values were checked complete at construction.
		for _, suffix := range github.RequiredDatabaseSuffixes {
			value := db.Values[strings.ToLower(suffix)]
			steps = append(steps, p.secretStep(db.Prefix+"_"+suffix, func(context.Context) (string, error) {
				return value, nil
			}))
		}
	case config.SecretsModeVerifyExisting:
		steps = append(steps, reconcile.Step{
			Name: "database secrets",
			Run: func(ctx context.Context) (reconcile.Outcome, error) {
				if err := p.repository.VerifyRequiredSecrets(ctx, github.RequiredDatabaseSecretNames(db.Prefix)); err != nil {
					return reconcile.OutcomeUnknown, errors.Trace(err)
				}
				return reconcile.AlreadySatisfied, nil
			},
		})
	}
	return steps
}

func (p *Pipeline) secretStep(name string, value func(context.Context) (string, error)) reconcile.Step {
	return reconcile.Step{
		Name: "secret " + name,
		Run: func(ctx context.Context) (reconcile.Outcome, error) {
			v, err := value(ctx)
			if err != nil {
				return reconcile.OutcomeUnknown, errors.Trace(err)
			}
			if err := p.repository.SetSecret(ctx, name, v); err != nil {
				return reconcile.OutcomeUnknown, errors.Trace(err)
			}
			return reconcile.Applied, nil
		},
	}
}

// tenantID prefers the configured tenant and falls back to resolving
// it from the subscription.
func (p *Pipeline) tenantID(ctx context.Context) (string, error) {
	if p.cfg.TenantID != "" {
		return p.cfg.TenantID, nil
	}
	tenant, err := p.provisioner.TenantID(ctx)
	if err != nil {
		return "", errors.Annotate(err, "resolving tenant id")
	}
	return tenant, nil
}
