// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azure reconciles Azure Resource Manager entities: resource
// provider registrations, the resource group, and the deployer's role
// assignment. Directory (Graph) entities live in the azureauth
// subpackage.
package azure

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	internallogger "github.com/cloudship/cloudship/internal/logger"
)

var logger = internallogger.GetLogger("cloudship.azure")

// ProvisionerParams configures a Provisioner.
type ProvisionerParams struct {
	SubscriptionID string
	Credential     azcore.TokenCredential

	// Transporter overrides the SDK's HTTP transport; tests install
	// canned senders here.
	Transporter policy.Transporter

	// Clock is used for the role assignment propagation retry.
	Clock clock.Clock

	// NewUUID generates role assignment names; tests fix the sequence.
	NewUUID func() (uuid.UUID, error)
}

// Provisioner reconciles ARM-side entities against desired state.
type Provisioner struct {
	subscriptionID  string
	clock           clock.Clock
	newUUID         func() (uuid.UUID, error)
	providers       *armresources.ProvidersClient
	groups          *armresources.ResourceGroupsClient
	roleDefinitions *armauthorization.RoleDefinitionsClient
	roleAssignments *armauthorization.RoleAssignmentsClient
	subscriptions   *armsubscriptions.Client
}

// NewProvisioner constructs a Provisioner and its ARM clients.
func NewProvisioner(params ProvisionerParams) (*Provisioner, error) {
	if params.SubscriptionID == "" {
		return nil, errors.NotValidf("empty subscription id")
	}
	if params.Clock == nil {
		params.Clock = clock.WallClock
	}
	if params.NewUUID == nil {
		params.NewUUID = uuid.NewRandom
	}
	var opts *arm.ClientOptions
	if params.Transporter != nil {
		opts = &arm.ClientOptions{
			ClientOptions: policy.ClientOptions{Transport: params.Transporter},
		}
	}

	p := &Provisioner{
		subscriptionID: params.SubscriptionID,
		clock:          params.Clock,
		newUUID:        params.NewUUID,
	}
	var err error
	if p.providers, err = armresources.NewProvidersClient(params.SubscriptionID, params.Credential, opts); err != nil {
		return nil, errors.Annotate(err, "creating providers client")
	}
	if p.groups, err = armresources.NewResourceGroupsClient(params.SubscriptionID, params.Credential, opts); err != nil {
		return nil, errors.Annotate(err, "creating resource groups client")
	}
	if p.roleDefinitions, err = armauthorization.NewRoleDefinitionsClient(params.Credential, opts); err != nil {
		return nil, errors.Annotate(err, "creating role definitions client")
	}
	if p.roleAssignments, err = armauthorization.NewRoleAssignmentsClient(params.SubscriptionID, params.Credential, opts); err != nil {
		return nil, errors.Annotate(err, "creating role assignments client")
	}
	if p.subscriptions, err = armsubscriptions.NewClient(params.Credential, opts); err != nil {
		return nil, errors.Annotate(err, "creating subscriptions client")
	}
	return p, nil
}
