// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azureauth reconciles the Azure AD entities backing the
// deployer identity: the application, its service principal, and the
// OIDC federated credentials that let GitHub Actions obtain tokens
// without a stored secret.
package azureauth

import (
	"context"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/juju/errors"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	kiotaauth "github.com/microsoft/kiota-authentication-azure-go"
	nethttplibrary "github.com/microsoft/kiota-http-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/applications"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	internallogger "github.com/cloudship/cloudship/internal/logger"
	"github.com/cloudship/cloudship/internal/reconcile"
)

var logger = internallogger.GetLogger("cloudship.azure.auth")

// NewRequestAdaptor returns a Graph request adaptor authenticated with
// the given credential.
func NewRequestAdaptor(cred azcore.TokenCredential) (abstractions.RequestAdapter, error) {
	authProvider, err := kiotaauth.NewAzureIdentityAuthenticationProviderWithScopes(
		cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, errors.Annotate(err, "creating graph authentication provider")
	}
	adaptor, err := nethttplibrary.NewNetHttpRequestAdapter(authProvider)
	if err != nil {
		return nil, errors.Annotate(err, "creating graph request adaptor")
	}
	return adaptor, nil
}

// ServicePrincipalCreator reconciles the AD application and service
// principal for the deployer identity.
type ServicePrincipalCreator struct {
	// RequestAdaptor sends Microsoft Graph requests; tests install a
	// canned adaptor.
	RequestAdaptor abstractions.RequestAdapter

	once   sync.Once
	client *msgraphsdk.GraphServiceClient
}

func (c *ServicePrincipalCreator) graph() *msgraphsdk.GraphServiceClient {
	c.once.Do(func() {
		c.client = msgraphsdk.NewGraphServiceClient(c.RequestAdaptor)
	})
	return c.client
}

// Application is the named output of the application reconcile step,
// consumed by the service principal and federated credential steps.
type Application struct {
	// ObjectID addresses the application object in the directory.
	ObjectID string

	// AppID is the client id workflows log in with.
	AppID string
}

// EnsureApplication reconciles an AD application by display name.
// Display names are not unique in the directory; the first match wins,
// which keeps re-runs stable.
func (c *ServicePrincipalCreator) EnsureApplication(ctx context.Context, displayName string) (Application, reconcile.Outcome, error) {
	existing, err := c.findApplication(ctx, displayName)
	if err != nil {
		return Application{}, reconcile.OutcomeUnknown, errors.Trace(err)
	}
	if existing != nil {
		return *existing, reconcile.AlreadySatisfied, nil
	}

	logger.Debugf("creating AD application %q", displayName)
	app := models.NewApplication()
	app.SetDisplayName(to.Ptr(displayName))
	created, err := c.graph().Applications().Post(ctx, app, nil)
	if err != nil {
		if !hasODataCode(err, codeMultipleObjectsWithSameKeyValue) {
			return Application{}, reconcile.OutcomeUnknown, errors.Annotatef(err, "creating application %q", displayName)
		}
		// Lost a race with a concurrent run; the application is there.
		existing, err := c.findApplication(ctx, displayName)
		if err != nil {
			return Application{}, reconcile.OutcomeUnknown, errors.Trace(err)
		}
		if existing == nil {
			return Application{}, reconcile.OutcomeUnknown, errors.NotFoundf("application %q after create conflict", displayName)
		}
		return *existing, reconcile.AlreadySatisfied, nil
	}
	result, err := applicationOutput(created)
	if err != nil {
		return Application{}, reconcile.OutcomeUnknown, errors.Trace(err)
	}
	return result, reconcile.Applied, nil
}

func (c *ServicePrincipalCreator) findApplication(ctx context.Context, displayName string) (*Application, error) {
	resp, err := c.graph().Applications().Get(ctx, &applications.ApplicationsRequestBuilderGetRequestConfiguration{
		QueryParameters: &applications.ApplicationsRequestBuilderGetQueryParameters{
			Filter: to.Ptr("displayName eq '" + displayName + "'"),
		},
	})
	if err != nil {
		return nil, errors.Annotatef(err, "listing applications named %q", displayName)
	}
	matches := resp.GetValue()
	if len(matches) == 0 {
		return nil, nil
	}
	result, err := applicationOutput(matches[0])
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &result, nil
}

func applicationOutput(app models.Applicationable) (Application, error) {
	if app.GetAppId() == nil {
		return Application{}, errors.New("application has no app id")
	}
	result := Application{AppID: *app.GetAppId()}
	if id := app.GetId(); id != nil {
		result.ObjectID = *id
	}
	return result, nil
}

// EnsureServicePrincipal reconciles the service principal for the
// given application, returning its object id. A missing principal is
// created; a create that loses the race to a concurrent run falls back
// to reading the winner.
func (c *ServicePrincipalCreator) EnsureServicePrincipal(ctx context.Context, appID string) (string, reconcile.Outcome, error) {
	sp, err := c.graph().ServicePrincipalsWithAppId(to.Ptr(appID)).Get(ctx, nil)
	if err == nil {
		objectID, err := servicePrincipalObjectID(sp)
		if err != nil {
			return "", reconcile.OutcomeUnknown, errors.Trace(err)
		}
		return objectID, reconcile.AlreadySatisfied, nil
	}
	if !hasODataCode(err, codeResourceNotFound) {
		return "", reconcile.OutcomeUnknown, errors.Annotatef(err, "looking up service principal for %q", appID)
	}

	logger.Debugf("creating service principal for application %q", appID)
	newSP := models.NewServicePrincipal()
	newSP.SetAppId(to.Ptr(appID))
	created, err := c.graph().ServicePrincipals().Post(ctx, newSP, nil)
	if err == nil {
		objectID, err := servicePrincipalObjectID(created)
		if err != nil {
			return "", reconcile.OutcomeUnknown, errors.Trace(err)
		}
		return objectID, reconcile.Applied, nil
	}
	if !hasODataCode(err, codeMultipleObjectsWithSameKeyValue) {
		return "", reconcile.OutcomeUnknown, errors.Annotatef(err, "creating service principal for %q", appID)
	}
	// Concurrent run created it between our lookup and create.
	sp, err = c.graph().ServicePrincipalsWithAppId(to.Ptr(appID)).Get(ctx, nil)
	if err != nil {
		return "", reconcile.OutcomeUnknown, errors.Annotatef(err, "looking up service principal for %q", appID)
	}
	objectID, err := servicePrincipalObjectID(sp)
	if err != nil {
		return "", reconcile.OutcomeUnknown, errors.Trace(err)
	}
	return objectID, reconcile.AlreadySatisfied, nil
}

func servicePrincipalObjectID(sp models.ServicePrincipalable) (string, error) {
	if sp.GetId() == nil {
		return "", errors.New("service principal has no object id")
	}
	return *sp.GetId(), nil
}
