// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/juju/errors"

	"github.com/cloudship/cloudship/internal/reconcile"
)

// EnsureResourceGroup reconciles the resource group's existence. When
// the existence probe reports true no create call is issued at all;
// the group's location is immutable after creation and is not patched.
func (p *Provisioner) EnsureResourceGroup(ctx context.Context, name, location string) (reconcile.Outcome, error) {
	exists, err := p.groups.CheckExistence(ctx, name, nil)
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "checking resource group %q", name)
	}
	if exists.Success {
		return reconcile.AlreadySatisfied, nil
	}
	logger.Debugf("creating resource group %q in %q", name, location)
	_, err = p.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
	}, nil)
	if err != nil {
		return reconcile.OutcomeUnknown, errors.Annotatef(err, "creating resource group %q", name)
	}
	return reconcile.Applied, nil
}

// TenantID resolves the tenant owning the subscription. Later steps
// (federated credential login, repository secrets) consume it as a
// named output.
func (p *Provisioner) TenantID(ctx context.Context) (string, error) {
	sub, err := p.subscriptions.Get(ctx, p.subscriptionID, nil)
	if err != nil {
		return "", errors.Annotate(err, "querying subscription")
	}
	if sub.TenantID == nil {
		return "", errors.Errorf("subscription %q has no tenant id", p.subscriptionID)
	}
	return *sub.TenantID, nil
}
