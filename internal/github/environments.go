// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package github

import (
	"context"
	"net/http"

	"github.com/google/go-github/v66/github"
	"github.com/juju/errors"

	"github.com/cloudship/cloudship/internal/reconcile"
)

// EnsureEnvironment reconciles one deployment environment. An existing
// environment whose branch policy already matches is left untouched;
// otherwise a single PUT converges it.
func (c *Client) EnsureEnvironment(ctx context.Context, name string, protectedBranches bool) (reconcile.Outcome, error) {
	env, resp, err := c.gh.Repositories.GetEnvironment(ctx, c.owner, c.repo, name)
	if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "querying environment %q", name)
	}
	if err == nil && environmentMatches(env, protectedBranches) {
		return reconcile.AlreadySatisfied, nil
	}

	logger.Debugf("creating environment %q (protected branches: %v)", name, protectedBranches)
	update := &github.CreateUpdateEnvironment{}
	if protectedBranches {
		update.DeploymentBranchPolicy = &github.BranchPolicy{
			ProtectedBranches:    github.Bool(true),
			CustomBranchPolicies: github.Bool(false),
		}
	}
	if _, _, err := c.gh.Repositories.CreateUpdateEnvironment(ctx, c.owner, c.repo, name, update); err != nil {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "creating environment %q", name)
	}
	return reconcile.Applied, nil
}

func environmentMatches(env *github.Environment, protectedBranches bool) bool {
	policy := env.DeploymentBranchPolicy
	if !protectedBranches {
		return policy == nil || !policy.GetProtectedBranches()
	}
	return policy != nil && policy.GetProtectedBranches()
}
