// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azureauth

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/juju/errors"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/cloudship/cloudship/internal/reconcile"
)

const (
	// GitHubOIDCIssuer is the token issuer for GitHub Actions
	// workflow identities.
	GitHubOIDCIssuer = "https://token.actions.githubusercontent.com"

	// TokenExchangeAudience is the audience Azure AD accepts for
	// workload identity federation.
	TokenExchangeAudience = "api://AzureADTokenExchange"
)

// GitHubEnvironmentSubject returns the OIDC subject claim for a
// workflow running in a deployment environment of repo "owner/name".
func GitHubEnvironmentSubject(slug, environment string) string {
	return fmt.Sprintf("repo:%s:environment:%s", slug, environment)
}

// GitHubBranchSubject returns the OIDC subject claim for a workflow
// running on a branch of repo "owner/name".
func GitHubBranchSubject(slug, branch string) string {
	return fmt.Sprintf("repo:%s:ref:refs/heads/%s", slug, branch)
}

// FederatedCredential is the desired state of one federated credential
// on the deployer application. Name is the identity key, unique per
// application.
type FederatedCredential struct {
	Name      string
	Issuer    string
	Subject   string
	Audiences []string
}

// GitHubCredential builds the desired credential for a GitHub subject
// with the standard issuer and audience.
func GitHubCredential(name, subject string) FederatedCredential {
	return FederatedCredential{
		Name:      name,
		Issuer:    GitHubOIDCIssuer,
		Subject:   subject,
		Audiences: []string{TokenExchangeAudience},
	}
}

// EnsureFederatedCredential reconciles one federated credential on the
// application identified by its object id. Creating the same named
// credential twice never fails: a match is reported AlreadySatisfied,
// a drifted credential is patched in place, and a create conflict from
// a concurrent run is treated as satisfied.
func (c *ServicePrincipalCreator) EnsureFederatedCredential(ctx context.Context, appObjectID string, desired FederatedCredential) (reconcile.Outcome, error) {
	creds := c.graph().Applications().ByApplicationId(appObjectID).FederatedIdentityCredentials()
	existing, err := creds.Get(ctx, nil)
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "listing federated credentials")
	}
	for _, cred := range existing.GetValue() {
		if cred.GetName() == nil || *cred.GetName() != desired.Name {
			continue
		}
		if credentialMatches(cred, desired) {
			return reconcile.AlreadySatisfied, nil
		}
		if cred.GetId() == nil {
			return reconcile.OutcomeUnknown, errors.Errorf("federated credential %q has no id", desired.Name)
		}
		logger.Debugf("updating federated credential %q", desired.Name)
		if _, err := creds.ByFederatedIdentityCredentialId(*cred.GetId()).Patch(ctx, credentialModel(desired), nil); err != nil {
			return reconcile.OutcomeUnknown, errors.Annotatef(err, "updating federated credential %q", desired.Name)
		}
		return reconcile.Applied, nil
	}

	logger.Debugf("creating federated credential %q for subject %q", desired.Name, desired.Subject)
	if _, err := creds.Post(ctx, credentialModel(desired), nil); err != nil {
		if hasODataCode(err, codeMultipleObjectsWithSameKeyValue) {
			return reconcile.AlreadySatisfied, nil
		}
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "creating federated credential %q", desired.Name)
	}
	return reconcile.Applied, nil
}

func credentialModel(desired FederatedCredential) *models.FederatedIdentityCredential {
	cred := models.NewFederatedIdentityCredential()
	cred.SetName(to.Ptr(desired.Name))
	cred.SetIssuer(to.Ptr(desired.Issuer))
	cred.SetSubject(to.Ptr(desired.Subject))
	cred.SetAudiences(desired.Audiences)
	return cred
}

func credentialMatches(cred models.FederatedIdentityCredentialable, desired FederatedCredential) bool {
	if cred.GetIssuer() == nil || *cred.GetIssuer() != desired.Issuer {
		return false
	}
	if cred.GetSubject() == nil || *cred.GetSubject() != desired.Subject {
		return false
	}
	audiences := cred.GetAudiences()
	if len(audiences) != len(desired.Audiences) {
		return false
	}
	for i, audience := range audiences {
		if audience != desired.Audiences[i] {
			return false
		}
	}
	return true
}
